// Package sumsub is the verification vendor client.
package sumsub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	fastshot "github.com/opus-domini/fast-shot"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"capstack/internal/identity/models"
	"capstack/internal/platform/config"
	"capstack/internal/platform/metrics"
)

const (
	applicantsPath   = "/resources/applicants"
	accessTokensPath = "/resources/accessTokens"
	tokenTTLSeconds  = 600
)

var tracer = otel.Tracer("capstack/verification/sumsub")

// Client signs each request with HMAC-SHA256 over timestamp, method, path
// and body.
type Client struct {
	baseURL   string
	appToken  string
	secretKey string
	levelName string
	timeout   time.Duration
	metrics   *metrics.Metrics
	now       func() time.Time
}

func New(cfg config.SumsubConfig, m *metrics.Metrics) *Client {
	return &Client{
		baseURL:   cfg.BaseURL,
		appToken:  cfg.AppToken,
		secretKey: cfg.SecretKey,
		levelName: cfg.LevelName,
		timeout:   cfg.Timeout,
		metrics:   m,
		now:       time.Now,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.appToken != "" && c.secretKey != ""
}

type docSet struct {
	IDDocSetType string   `json:"idDocSetType"`
	Types        []string `json:"types"`
}

type createApplicantRequest struct {
	ExternalUserID string `json:"externalUserId"`
	Email          string `json:"email"`
	RequiredIDDocs struct {
		DocSets []docSet `json:"docSets"`
	} `json:"requiredIdDocs"`
}

func (c *Client) CreateApplicant(ctx context.Context, subjectID, email string) (ref string, err error) {
	ctx, finish := c.observe(ctx, "create_applicant")
	defer func() { finish(err) }()

	req := createApplicantRequest{ExternalUserID: subjectID, Email: email}
	req.RequiredIDDocs.DocSets = []docSet{{IDDocSetType: "IDENTITY", Types: []string{"PASSPORT", "ID_CARD", "DRIVERS"}}}

	var resp struct {
		ID string `json:"id"`
	}
	path := applicantsPath + "?levelName=" + url.QueryEscape(c.levelName)
	if err := c.post(ctx, path, req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("sumsub create applicant: empty applicant id")
	}
	return resp.ID, nil
}

func (c *Client) GenerateAccessToken(ctx context.Context, subjectID string) (token string, err error) {
	ctx, finish := c.observe(ctx, "generate_access_token")
	defer func() { finish(err) }()

	req := map[string]any{
		"userId":    subjectID,
		"ttlInSecs": tokenTTLSeconds,
		"levelName": c.levelName,
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.post(ctx, accessTokensPath, req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("sumsub access token: empty token")
	}
	return resp.Token, nil
}

func (c *Client) GetStatus(ctx context.Context, applicantRef string) (status models.ApplicantStatus, err error) {
	ctx, finish := c.observe(ctx, "get_status")
	defer func() { finish(err) }()

	path := applicantsPath + "/" + url.PathEscape(applicantRef) + "/status"
	ts, sig := c.sign("GET", path, nil)
	res, err := fastshot.NewClient(c.baseURL).
		Config().SetTimeout(c.timeout).
		Header().AddAll(c.headers(ts, sig)).
		Build().GET(path).
		Send()
	if err != nil {
		return models.ApplicantStatus{}, fmt.Errorf("sumsub status request: %w", err)
	}

	var resp struct {
		ReviewStatus string              `json:"reviewStatus"`
		ReviewResult models.ReviewResult `json:"reviewResult"`
		ReviewDate   string              `json:"reviewDate"`
	}
	if err := decode(res, &resp); err != nil {
		return models.ApplicantStatus{}, err
	}
	status = models.ApplicantStatus{
		ApplicantRef: applicantRef,
		ReviewStatus: resp.ReviewStatus,
		ReviewResult: string(resp.ReviewResult),
	}
	if resp.ReviewDate != "" {
		if t, perr := parseReviewDate(resp.ReviewDate); perr == nil {
			status.ReviewDate = &t
		}
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal sumsub request: %w", err)
	}
	ts, sig := c.sign("POST", path, payload)
	res, err := fastshot.NewClient(c.baseURL).
		Config().SetTimeout(c.timeout).
		Header().AddAll(c.headers(ts, sig)).
		Build().POST(path).
		Body().AsString(string(payload)).
		Send()
	if err != nil {
		return fmt.Errorf("sumsub request %s: %w", path, err)
	}
	return decode(res, out)
}

func (c *Client) headers(ts, sig string) map[string]string {
	return map[string]string{
		"Accept":           "application/json",
		"Content-Type":     "application/json",
		"X-App-Token":      c.appToken,
		"X-App-Access-Sig": sig,
		"X-App-Access-Ts":  ts,
	}
}

// sign returns the request timestamp and its signature.
func (c *Client) sign(method, path string, body []byte) (string, string) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(ts + method + path))
	mac.Write(body)
	return ts, hex.EncodeToString(mac.Sum(nil))
}

func decode(res fastshot.Response, out any) error {
	if res.Status().IsError() {
		body, _ := res.Body().AsString()
		return fmt.Errorf("sumsub error %d: %s", res.Status().Code(), body)
	}
	if err := res.Body().AsJSON(out); err != nil {
		return fmt.Errorf("parse sumsub response: %w", err)
	}
	return nil
}

func parseReviewDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized review date %q", s)
}

// observe opens a span and returns a finisher that records latency and
// outcome.
func (c *Client) observe(ctx context.Context, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "sumsub."+op)
	span.SetAttributes(attribute.String("upstream", "sumsub"))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.ObserveUpstream("sumsub", op, start, err)
	}
}
