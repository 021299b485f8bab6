package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"github.com/yourusername/diary-we-write/internal/config"
	"github.com/yourusername/diary-we-write/internal/diary"
)

const (
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
	facebookMeURL     = "https://graph.facebook.com/me?fields=id"
)

// Provider は外部認証プロバイダー1つ分の OAuth2 設定です。
type Provider struct {
	Name       diary.Provider
	OAuth      *oauth2.Config
	ProfileURL string
	// プロフィールJSONのうち利用者IDを持つフィールド
	SubjectField string
	// nil の場合は http.DefaultClient
	HTTPClient *http.Client
}

// NewGoogleProvider は profile スコープのみを要求する Google プロバイダーを作成します。
func NewGoogleProvider(client config.OAuthClient, callbackURL string) *Provider {
	return &Provider{
		Name: diary.ProviderGoogle,
		OAuth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"profile"},
			Endpoint:     google.Endpoint,
		},
		ProfileURL:   googleUserInfoURL,
		SubjectField: "sub",
	}
}

// NewFacebookProvider は Facebook プロバイダーを作成します。
func NewFacebookProvider(client config.OAuthClient, callbackURL string) *Provider {
	return &Provider{
		Name: diary.ProviderFacebook,
		OAuth: &oauth2.Config{
			ClientID:     client.ClientID,
			ClientSecret: client.ClientSecret,
			RedirectURL:  callbackURL,
			Endpoint:     facebook.Endpoint,
		},
		ProfileURL:   facebookMeURL,
		SubjectField: "id",
	}
}

// AuthCodeURL は同意画面へのリダイレクト先を返します。
func (p *Provider) AuthCodeURL(state string) string {
	return p.OAuth.AuthCodeURL(state)
}

// Subject は認可コードをトークンに交換し、プロフィールから利用者IDを取り出します。
func (p *Provider) Subject(ctx context.Context, code string) (string, error) {
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}

	token, err := p.OAuth.Exchange(ctx, code)
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to exchange code", p.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.ProfileURL, nil)
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to build profile request", p.Name)
	}
	resp, err := p.OAuth.Client(ctx, token).Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s: failed to fetch profile", p.Name)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", errors.Errorf("%s: profile request failed with status %d: %s", p.Name, resp.StatusCode, string(body))
	}

	var profile map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return "", errors.Wrapf(err, "%s: failed to decode profile", p.Name)
	}

	switch v := profile[p.SubjectField].(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	}
	return "", errors.Errorf("%s: profile has no %q", p.Name, p.SubjectField)
}
