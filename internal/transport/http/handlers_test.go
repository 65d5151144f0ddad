package httptransport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	captableservice "capstack/internal/captable/service"
	captablestore "capstack/internal/captable/store"
	identityservice "capstack/internal/identity/service"
	identitystore "capstack/internal/identity/store"
	invitationservice "capstack/internal/invitation/service"
	invitationstore "capstack/internal/invitation/store"
	"capstack/internal/ledger"
	"capstack/internal/platform/logger"
	"capstack/internal/platform/middleware"
	reviewservice "capstack/internal/review/service"
	reviewstore "capstack/internal/review/store"
	spvservice "capstack/internal/spv/service"
	spvstore "capstack/internal/spv/store"
	subscriptionservice "capstack/internal/subscription/service"
	substore "capstack/internal/subscription/store"
	id "capstack/pkg/domain"
	"capstack/pkg/platform/tx"
	"capstack/pkg/requestcontext"
	"capstack/pkg/testutil"
)

const investorWallet = "0x52908400098527886E0F7030069857D2E4169EE7"

type HandlerSuite struct {
	suite.Suite
	router  http.Handler
	handler *Handler
	tokens  *middleware.TokenService
	admin   id.UserID
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	runner := tx.NewMemoryRunner()
	reviews := reviewservice.New(reviewstore.NewInMemory())
	identities := identityservice.New(identitystore.NewInMemory(), reviews, runner,
		identityservice.WithWebhookSecret("whsec"),
	)
	tokens := ledger.NewSimulated()
	spvs := spvservice.New(spvstore.NewInMemory(), identities, reviews, tokens, runner)
	captable := captableservice.New(captablestore.NewInMemory(), spvs, identities, tokens, runner)

	s.handler = NewHandler(Services{
		Identities:    identities,
		Invitations:   invitationservice.New(invitationstore.NewInMemory(), spvs, invitationservice.WithFrontendURL("https://app.example.com")),
		SPVs:          spvs,
		Subscriptions: subscriptionservice.New(substore.NewInMemory(), spvs, identities, captable, tokens, runner),
		CapTable:      captable,
		Reviews:       reviews,
	}, logger.Discard())
	s.tokens = middleware.NewTokenService("secret", "capstack")
	s.router = NewRouter(s.handler, s.tokens)
	s.admin = id.NewUserID()
}

func (s *HandlerSuite) token(userID id.UserID, role requestcontext.Role) string {
	token, err := s.tokens.Issue(userID, role, time.Hour)
	s.Require().NoError(err)
	return token
}

func (s *HandlerSuite) do(method, path, token string, body any) *httptest.ResponseRecorder {
	req := testutil.NewJSONRequest(s.T(), method, path, body)
	if token != "" {
		req = testutil.WithBearer(req, token)
	}
	return testutil.DoRequest(s.router, req)
}

// register creates an identity through the API and clears it with an
// admin override.
func (s *HandlerSuite) register(role requestcontext.Role, email string) (id.UserID, string) {
	userID := id.NewUserID()
	token := s.token(userID, role)
	rr := s.do(http.MethodPost, "/identities", token, map[string]string{"email": email, "jurisdiction": "US"})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())

	rr = s.do(http.MethodPost, "/admin/identities/"+userID.String()+"/override", s.token(s.admin, requestcontext.RoleAdmin),
		map[string]string{"action": "approve", "notes": "documents checked"})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	return userID, token
}

func (s *HandlerSuite) spvParams() map[string]any {
	now := time.Now()
	return map[string]any{
		"name":              "Harbor Street",
		"spv_type":          "real_estate",
		"fundraising_start": now.Add(-time.Hour),
		"fundraising_end":   now.AddDate(0, 1, 0),
		"lifespan_years":    5,
		"management_fee":    "2",
		"carry_fee":         "20",
		"admin_fee":         "1",
		"target_amount":     "100000",
	}
}

type spvResponse struct {
	ID                   string `json:"id"`
	Status               string `json:"status"`
	AdminStatus          string `json:"admin_status"`
	TokenContractAddress string `json:"token_contract_address"`
}

type subscriptionResponse struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	TokenAmount *string `json:"token_amount"`
}

func (s *HandlerSuite) TestSubscriptionLifecycle() {
	t := s.T()
	adminToken := s.token(s.admin, requestcontext.RoleAdmin)
	_, managerToken := s.register(requestcontext.RoleManager, "manager@example.com")

	rr := s.do(http.MethodPost, "/spvs", managerToken, s.spvParams())
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	spv := testutil.UnmarshalResponse[spvResponse](t, rr)
	s.Equal("configuring", spv.Status)
	s.Equal("pending", spv.AdminStatus)

	rr = s.do(http.MethodPost, "/admin/spvs/"+spv.ID+"/review", adminToken, map[string]string{"action": "approve"})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	approved := testutil.UnmarshalResponse[spvResponse](t, rr)
	s.Equal("fundraising", approved.Status)
	s.NotEmpty(approved.TokenContractAddress, "contract is provisioned on approval")

	rr = s.do(http.MethodPost, "/spvs/"+spv.ID+"/invitations", managerToken,
		map[string]any{"emails": []string{"Investor@Example.com"}})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	links := testutil.UnmarshalResponse[struct {
		Invitations []struct {
			Token string `json:"token"`
			Email string `json:"email"`
			URL   string `json:"url"`
		} `json:"invitations"`
	}](t, rr)
	s.Require().Len(links.Invitations, 1)
	invite := links.Invitations[0]
	s.Equal("investor@example.com", invite.Email)
	s.Equal("https://app.example.com/invite/"+invite.Token, invite.URL)

	rr = s.do(http.MethodGet, "/invitations/"+invite.Token, "", nil)
	testutil.AssertStatusOK(t, rr)

	investorID, investorToken := s.register(requestcontext.RoleInvestor, "investor@example.com")
	rr = s.do(http.MethodPut, "/identities/"+investorID.String()+"/wallet", investorToken,
		map[string]string{"wallet_address": investorWallet})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())

	rr = s.do(http.MethodPost, "/invitations/"+invite.Token+"/accept", investorToken, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	testutil.AssertJSONContains(t, rr, "status", "accepted")

	rr = s.do(http.MethodPost, "/subscriptions", investorToken, map[string]string{"spv_id": spv.ID, "amount": "5000"})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	sub := testutil.UnmarshalResponse[subscriptionResponse](t, rr)
	s.Equal("pending", sub.Status)

	rr = s.do(http.MethodPost, "/subscriptions/"+sub.ID+"/funding", investorToken,
		map[string]string{"wire_reference": "WIRE-001", "bank_name": "First Bank"})
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	testutil.AssertJSONContains(t, rr, "status", "funded")

	rr = s.do(http.MethodPost, "/admin/subscriptions/"+sub.ID+"/complete", adminToken, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	completed := testutil.UnmarshalResponse[subscriptionResponse](t, rr)
	s.Equal("completed", completed.Status)
	s.Require().NotNil(completed.TokenAmount)
	s.Equal("5000", *completed.TokenAmount)

	rr = s.do(http.MethodPost, "/admin/subscriptions/"+sub.ID+"/complete", adminToken, nil)
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")

	rr = s.do(http.MethodPost, "/admin/spvs/"+spv.ID+"/distributions", adminToken,
		map[string]string{"amount": "1000", "type": "income"})
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	testutil.AssertJSONContains(t, rr, "per_token_amount", "0.2")

	rr = s.do(http.MethodGet, "/spvs/"+spv.ID+"/cap-table", managerToken, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	table := testutil.UnmarshalResponse[struct {
		Entries []struct {
			InvestorID   string `json:"investor_id"`
			TokenBalance string `json:"token_balance"`
		} `json:"entries"`
		Distributions []struct {
			PerTokenAmount string `json:"per_token_amount"`
		} `json:"distributions"`
	}](t, rr)
	s.Require().Len(table.Entries, 1)
	s.Equal(investorID.String(), table.Entries[0].InvestorID)
	s.Equal("5000", table.Entries[0].TokenBalance)
	s.Require().Len(table.Distributions, 1)

	rr = s.do(http.MethodGet, "/subscriptions/"+sub.ID, investorToken, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	testutil.AssertJSONHasKey(t, rr, "investor")

	rr = s.do(http.MethodGet, "/admin/reviews?type=spv_approval&entity_id="+spv.ID, adminToken, nil)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	history := testutil.UnmarshalResponse[struct {
		Reviews []struct {
			ReviewType string `json:"review_type"`
			Decision   string `json:"decision"`
		} `json:"reviews"`
	}](t, rr)
	s.Require().Len(history.Reviews, 1)
	s.Equal("approved", history.Reviews[0].Decision)
}

func (s *HandlerSuite) TestAuthorization() {
	t := s.T()

	s.Run("missing token is unauthorized", func() {
		rr := s.do(http.MethodGet, "/subscriptions", "", nil)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	s.Run("token signed with another key is unauthorized", func() {
		forged, err := middleware.NewTokenService("other", "capstack").Issue(id.NewUserID(), requestcontext.RoleAdmin, time.Hour)
		s.Require().NoError(err)
		rr := s.do(http.MethodGet, "/admin/reviews", forged, nil)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	s.Run("investors cannot reach admin routes", func() {
		rr := s.do(http.MethodGet, "/admin/reviews", s.token(id.NewUserID(), requestcontext.RoleInvestor), nil)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")
	})

	s.Run("investors cannot create spvs", func() {
		rr := s.do(http.MethodPost, "/spvs", s.token(id.NewUserID(), requestcontext.RoleInvestor), s.spvParams())
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	s.Run("admins cannot register an identity", func() {
		rr := s.do(http.MethodPost, "/identities", s.token(s.admin, requestcontext.RoleAdmin),
			map[string]string{"email": "ops@example.com"})
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})

	s.Run("another user's identity is forbidden", func() {
		ownerID, _ := s.register(requestcontext.RoleInvestor, "owner@example.com")
		rr := s.do(http.MethodGet, "/identities/"+ownerID.String(), s.token(id.NewUserID(), requestcontext.RoleInvestor), nil)
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "forbidden")

		rr = s.do(http.MethodGet, "/identities/"+ownerID.String(), s.token(s.admin, requestcontext.RoleAdmin), nil)
		testutil.AssertStatusOK(t, rr)
	})

	s.Run("managers only see their own spvs", func() {
		_, ownerToken := s.register(requestcontext.RoleManager, "owner-manager@example.com")
		rr := s.do(http.MethodPost, "/spvs", ownerToken, s.spvParams())
		s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
		spv := testutil.UnmarshalResponse[spvResponse](t, rr)

		_, otherToken := s.register(requestcontext.RoleManager, "other-manager@example.com")
		rr = s.do(http.MethodGet, "/spvs/"+spv.ID, otherToken, nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
		rr = s.do(http.MethodGet, "/spvs/"+spv.ID+"/cap-table", otherToken, nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}

func (s *HandlerSuite) TestRequestValidation() {
	t := s.T()
	adminToken := s.token(s.admin, requestcontext.RoleAdmin)

	s.Run("malformed path id", func() {
		rr := s.do(http.MethodPost, "/admin/subscriptions/not-a-uuid/complete", adminToken, nil)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown body fields are rejected", func() {
		rr := s.do(http.MethodPost, "/identities", s.token(id.NewUserID(), requestcontext.RoleInvestor),
			map[string]string{"email": "a@example.com", "nickname": "a"})
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("mint requires an investor", func() {
		rr := s.do(http.MethodPost, "/admin/spvs/"+id.NewSPVID().String()+"/mint", adminToken,
			map[string]string{"amount": "10"})
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("bad review history limit", func() {
		rr := s.do(http.MethodGet, "/admin/reviews?limit=ten", adminToken, nil)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("unknown invitation token", func() {
		rr := s.do(http.MethodGet, "/invitations/missing", "", nil)
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})

	s.Run("subscribing to an unknown spv", func() {
		_, investorToken := s.register(requestcontext.RoleInvestor, "early@example.com")
		rr := s.do(http.MethodPost, "/subscriptions", investorToken,
			map[string]string{"spv_id": id.NewSPVID().String(), "amount": "100"})
		testutil.AssertStatus(t, rr, http.StatusNotFound)
	})
}

func (s *HandlerSuite) TestVerificationWebhookAlwaysAcknowledges() {
	t := s.T()
	body := `{"type":"applicantReviewed","applicantId":"app-1","reviewResult":{"reviewAnswer":"GREEN"}}`

	testutil.Given(t, "a payload with a bad signature", func(t *testing.T) {
		req := testutil.NewRequestWithBody(t, http.MethodPost, "/webhooks/verification", body)
		req.Header.Set(signatureHeader, "deadbeef")
		rr := testutil.DoRequest(s.router, req)

		testutil.Then(t, "the vendor gets a 200 and nothing is processed", func(t *testing.T) {
			testutil.AssertStatusOK(t, rr)
			testutil.AssertJSONContains(t, rr, "processed", false)
		})
	})

	testutil.Given(t, "a payload without a signature", func(t *testing.T) {
		rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(t, http.MethodPost, "/webhooks/verification", body))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "processed", false)
	})
}

func (s *HandlerSuite) TestListMySubscriptionsDirect() {
	t := s.T()
	investorID := id.NewUserID()
	req := testutil.WithCaller(testutil.NewRequest(t, http.MethodGet, "/subscriptions"), investorID, requestcontext.RoleInvestor)
	rr := httptest.NewRecorder()

	s.handler.handleListMySubscriptions(rr, req)

	testutil.AssertStatusOK(t, rr)
	resp := testutil.UnmarshalResponse[struct {
		Subscriptions []any `json:"subscriptions"`
	}](t, rr)
	s.Empty(resp.Subscriptions)
}
