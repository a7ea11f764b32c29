// Package smartapi is a small typed client for the Angel One SmartAPI
// endpoints the signal recorder needs: session lifecycle and historical
// candle data. Request headers, route table, and error envelope handling
// follow the broker's published HTTP contract; everything order-related is
// deliberately absent.
package smartapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRoot = "https://apiconnect.angelone.in"

var routes = map[string]string{
	"api.login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"api.logout":       "/rest/secure/angelbroking/user/v1/logout",
	"api.token":        "/rest/auth/angelbroking/jwt/v1/generateTokens",
	"api.user.profile": "/rest/secure/angelbroking/user/v1/getProfile",
	"api.candle.data":  "/rest/secure/angelbroking/historical/v1/getCandleData",
}

// Config configures a Client. Only APIKey is required; the IP and MAC
// fields exist so tests and containers can pin values instead of relying
// on interface discovery.
type Config struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	FeedToken    string

	RootURL    string        // default: https://apiconnect.angelone.in
	Timeout    time.Duration // default: 7s
	ProxyURL   string        // optional HTTP proxy
	DisableSSL bool          // InsecureSkipVerify, debugging only
	Debug      bool

	ClientPublicIP string
	ClientLocalIP  string
	ClientMAC      string
}

// Client talks to the SmartAPI REST backend. Not safe for concurrent token
// mutation; the session layer serializes login/renewal.
type Client struct {
	apiKey       string
	accessToken  string
	refreshToken string
	feedToken    string
	userID       string

	rootURL string
	debug   bool

	httpClient *http.Client

	clientPublicIP string
	clientLocalIP  string
	clientMAC      string

	// SessionExpiryHook fires on a 403 TokenException so the owner can
	// mark the session dead. Optional.
	SessionExpiryHook func()
}

// NewClient builds a client. Local IP and MAC are resolved from the host
// interfaces when not supplied; the public IP falls back to a placeholder
// since the backend only checks the header is present.
func NewClient(cfg Config) *Client {
	if cfg.RootURL == "" {
		cfg.RootURL = defaultRoot
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	if cfg.ClientLocalIP == "" {
		cfg.ClientLocalIP = firstNonEmpty(localIP(), "127.0.0.1")
	}
	if cfg.ClientPublicIP == "" {
		cfg.ClientPublicIP = "106.193.147.98"
	}
	if cfg.ClientMAC == "" {
		cfg.ClientMAC = firstNonEmpty(interfaceMAC(), "00:11:22:33:44:55")
	}

	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.DisableSSL,
		},
	}
	if cfg.ProxyURL != "" {
		if purl, err := url.Parse(cfg.ProxyURL); err == nil {
			tr.Proxy = http.ProxyURL(purl)
		}
	}

	return &Client{
		apiKey:         cfg.APIKey,
		accessToken:    cfg.AccessToken,
		refreshToken:   cfg.RefreshToken,
		feedToken:      cfg.FeedToken,
		rootURL:        strings.TrimRight(cfg.RootURL, "/"),
		debug:          cfg.Debug,
		httpClient:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		clientPublicIP: cfg.ClientPublicIP,
		clientLocalIP:  cfg.ClientLocalIP,
		clientMAC:      cfg.ClientMAC,
	}
}

// APIError is a non-OK response envelope from the backend.
type APIError struct {
	Type    string // error_type, e.g. TokenException
	Code    string // errorcode, e.g. AB1010
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("smartapi: %s: %s", e.Type, e.Message)
	}
	return fmt.Sprintf("smartapi: request failed (%s): %s", e.Code, e.Message)
}

// envelope is the common response wrapper on every SmartAPI endpoint.
type envelope struct {
	Status    bool            `json:"status"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorcode"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-ClientLocalIP", c.clientLocalIP)
	h.Set("X-ClientPublicIP", c.clientPublicIP)
	h.Set("X-MACAddress", c.clientMAC)
	h.Set("X-PrivateKey", c.apiKey)
	h.Set("X-UserType", "USER")
	h.Set("X-SourceID", "WEB")
	if c.accessToken != "" {
		h.Set("Authorization", "Bearer "+c.accessToken)
	}
	return h
}

func (c *Client) post(ctx context.Context, route string, params any) (*envelope, error) {
	uri, ok := routes[route]
	if !ok {
		return nil, fmt.Errorf("smartapi: unknown route %q", route)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("smartapi: marshal %s: %w", route, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rootURL+uri, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("smartapi: build request %s: %w", route, err)
	}
	req.Header = c.requestHeaders()

	if c.debug {
		log.Printf("[smartapi] POST %s body=%s", uri, body)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("smartapi: %s: %w", route, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("smartapi: read %s: %w", route, err)
	}
	if c.debug {
		log.Printf("[smartapi] %s status=%d body=%s", uri, resp.StatusCode, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("smartapi: parse %s response: %w", route, err)
	}

	if env.ErrorType != "" {
		if c.SessionExpiryHook != nil && resp.StatusCode == http.StatusForbidden && env.ErrorType == "TokenException" {
			c.SessionExpiryHook()
		}
		return &env, &APIError{Type: env.ErrorType, Code: env.ErrorCode, Message: env.Message}
	}
	if !env.Status {
		return &env, &APIError{Code: env.ErrorCode, Message: env.Message}
	}
	return &env, nil
}

// ---- Session ----

// SessionTokens is the credential set returned by a login or renewal.
type SessionTokens struct {
	JWTToken     string `json:"jwtToken"`
	RefreshToken string `json:"refreshToken"`
	FeedToken    string `json:"feedToken"`
}

// Profile is the subset of the user profile the recorder reports.
type Profile struct {
	ClientCode string `json:"clientcode"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// GenerateSession logs in with password + TOTP and installs the returned
// tokens on the client.
func (c *Client) GenerateSession(ctx context.Context, clientCode, password, totp string) (SessionTokens, error) {
	env, err := c.post(ctx, "api.login", map[string]string{
		"clientcode": clientCode,
		"password":   password,
		"totp":       totp,
	})
	if err != nil {
		return SessionTokens{}, err
	}

	var tokens SessionTokens
	if err := json.Unmarshal(env.Data, &tokens); err != nil {
		return SessionTokens{}, fmt.Errorf("smartapi: parse login tokens: %w", err)
	}
	if tokens.JWTToken == "" {
		return SessionTokens{}, fmt.Errorf("smartapi: login returned empty jwt token")
	}

	c.accessToken = tokens.JWTToken
	c.refreshToken = tokens.RefreshToken
	c.feedToken = tokens.FeedToken
	c.userID = clientCode
	return tokens, nil
}

// RenewAccessToken exchanges the held refresh token for fresh tokens and
// installs them.
func (c *Client) RenewAccessToken(ctx context.Context) (SessionTokens, error) {
	env, err := c.post(ctx, "api.token", map[string]string{
		"jwtToken":     c.accessToken,
		"refreshToken": c.refreshToken,
	})
	if err != nil {
		return SessionTokens{}, err
	}

	var tokens SessionTokens
	if err := json.Unmarshal(env.Data, &tokens); err != nil {
		return SessionTokens{}, fmt.Errorf("smartapi: parse renewed tokens: %w", err)
	}
	if tokens.JWTToken != "" {
		c.accessToken = tokens.JWTToken
	}
	if tokens.RefreshToken != "" {
		c.refreshToken = tokens.RefreshToken
	}
	if tokens.FeedToken != "" {
		c.feedToken = tokens.FeedToken
	}
	return tokens, nil
}

// GetProfile fetches the logged-in user's profile.
func (c *Client) GetProfile(ctx context.Context) (Profile, error) {
	env, err := c.post(ctx, "api.user.profile", map[string]string{
		"refreshToken": c.refreshToken,
	})
	if err != nil {
		return Profile{}, err
	}
	var p Profile
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Profile{}, fmt.Errorf("smartapi: parse profile: %w", err)
	}
	return p, nil
}

// TerminateSession logs the client code out and clears the held tokens.
func (c *Client) TerminateSession(ctx context.Context, clientCode string) error {
	_, err := c.post(ctx, "api.logout", map[string]string{"clientcode": clientCode})
	if err != nil {
		return err
	}
	c.accessToken = ""
	c.refreshToken = ""
	c.feedToken = ""
	return nil
}

// ---- Accessors ----

func (c *Client) AccessToken() string  { return c.accessToken }
func (c *Client) RefreshToken() string { return c.refreshToken }
func (c *Client) FeedToken() string    { return c.feedToken }
func (c *Client) UserID() string       { return c.userID }

// SetTokens installs a previously obtained token set, e.g. from a stored
// session.
func (c *Client) SetTokens(t SessionTokens) {
	c.accessToken = t.JWTToken
	c.refreshToken = t.RefreshToken
	c.feedToken = t.FeedToken
}

// ---- Host identity helpers ----

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, address := range addrs {
		if ipNet, ok := address.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return ""
}

func interfaceMAC() string {
	ifs, _ := net.Interfaces()
	for _, ifc := range ifs {
		if len(ifc.HardwareAddr) > 0 {
			return ifc.HardwareAddr.String()
		}
	}
	return ""
}
