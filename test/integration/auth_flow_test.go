// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	goredis "github.com/redis/go-redis/v9"

	"github.com/lavendrix/credentiald/internal/api"
	"github.com/lavendrix/credentiald/internal/auth"
	"github.com/lavendrix/credentiald/internal/auth/postgres"
	authredis "github.com/lavendrix/credentiald/internal/auth/redis"
	"github.com/lavendrix/credentiald/internal/mail"
)

const signingKey = "integration-signing-key-0123456789abcdef"

var hrefPattern = regexp.MustCompile(`href="([^"]+)"`)

// mailbox keeps rendered messages so specs can follow the emailed link.
type mailbox struct {
	mu   sync.Mutex
	msgs []mail.Message
}

func (m *mailbox) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
	return nil
}

func (m *mailbox) last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	Expect(m.msgs).NotTo(BeEmpty())
	return m.msgs[len(m.msgs)-1]
}

// resetToken pulls the token out of the last password reset email.
func (m *mailbox) resetToken() string {
	msg := m.last()
	Expect(msg.Subject).To(ContainSubstring("Reset"))
	match := hrefPattern.FindStringSubmatch(msg.HTML)
	Expect(match).To(HaveLen(2))
	link, err := url.Parse(html.UnescapeString(match[1]))
	Expect(err).NotTo(HaveOccurred())
	return link.Query().Get("token")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path string, body any, token string) (int, map[string]any) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return resp.StatusCode, out
}

// newStack wires the service over PostgreSQL with the given replay store.
func newStack(usedTokens auth.UsedTokenStore) (*client, *mailbox, func()) {
	box := &mailbox{}
	notifier, err := mail.NewNotifier(box, "no-reply@lavendrix.test", nil)
	Expect(err).NotTo(HaveOccurred())

	hasher, err := auth.NewArgon2idHasher(auth.HasherParams{Memory: 1024, Iterations: 1, Parallelism: 1})
	Expect(err).NotTo(HaveOccurred())
	issuer, err := auth.NewTokenIssuer([]byte(signingKey))
	Expect(err).NotTo(HaveOccurred())

	logger := slog.New(slog.NewTextHandler(GinkgoWriter, nil))
	service, err := auth.NewService(auth.ServiceDeps{
		Accounts:      postgres.NewAccountRepository(pool),
		Hasher:        hasher,
		Tokens:        issuer,
		UsedTokens:    usedTokens,
		Notifier:      notifier,
		ResetLinkBase: "https://app.lavendrix.test/reset-password",
		MailTimeout:   5 * time.Second,
		Logger:        logger,
	})
	Expect(err).NotTo(HaveOccurred())

	handler, err := api.NewHandler(api.Deps{
		Service:     service,
		Sessions:    issuer,
		CORSOrigins: []string{"https://app.lavendrix.test"},
		Logger:      logger,
	})
	Expect(err).NotTo(HaveOccurred())

	srv := httptest.NewServer(handler)
	return &client{base: srv.URL, http: srv.Client()}, box, srv.Close
}

type credentials struct {
	Name     string `json:"name,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
}

var _ = Describe("Credential lifecycle over PostgreSQL", func() {
	var (
		c    *client
		box  *mailbox
		stop func()
	)

	BeforeEach(func() {
		truncate()
		c, box, stop = newStack(postgres.NewUsedTokenRepository(pool))
	})

	AfterEach(func() {
		stop()
	})

	It("registers, logs in and reads the current account", func() {
		status, body := c.call(http.MethodPost, "/api/auth/register",
			credentials{Name: "Ada <b>Lovelace</b>", Email: "  Ada@Example.COM ", Password: "Secret1A"}, "")
		Expect(status).To(Equal(http.StatusCreated))
		Expect(body["emailSent"]).To(BeTrue())
		Expect(box.last().To).To(Equal("ada@example.com"))

		status, body = c.call(http.MethodPost, "/api/auth/login",
			credentials{Email: "ada@example.com", Password: "Secret1A"}, "")
		Expect(status).To(Equal(http.StatusOK))
		token, _ := body["token"].(string)
		Expect(token).NotTo(BeEmpty())
		Expect(body["user"]).To(HaveKeyWithValue("name", "Ada Lovelace"))

		status, body = c.call(http.MethodGet, "/api/auth/me", nil, token)
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["user"]).To(HaveKeyWithValue("email", "ada@example.com"))
	})

	It("refuses a second account for the same normalized email", func() {
		status, _ := c.call(http.MethodPost, "/api/auth/register",
			credentials{Name: "Ada", Email: "ada@example.com", Password: "Secret1A"}, "")
		Expect(status).To(Equal(http.StatusCreated))

		status, body := c.call(http.MethodPost, "/api/auth/register",
			credentials{Name: "Imposter", Email: "ADA@example.com", Password: "Other1B"}, "")
		Expect(status).To(Equal(http.StatusConflict))
		Expect(body["message"]).To(Equal("user already exists"))

		var count int
		Expect(pool.QueryRow(context.Background(), "SELECT count(*) FROM accounts").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(1))
	})

	It("resets a password once through the emailed link", func() {
		c.call(http.MethodPost, "/api/auth/register",
			credentials{Name: "Ada", Email: "ada@example.com", Password: "Secret1A"}, "")

		status, body := c.call(http.MethodPost, "/api/auth/forgot-password", credentials{Email: "ada@example.com"}, "")
		Expect(status).To(Equal(http.StatusOK))
		Expect(body["message"]).To(Equal("Reset link sent to email"))
		token := box.resetToken()
		Expect(token).NotTo(BeEmpty())

		reset := map[string]string{"token": token, "newPassword": "Fresh2B"}
		status, _ = c.call(http.MethodPost, "/api/auth/reset-password", reset, "")
		Expect(status).To(Equal(http.StatusOK))

		status, body = c.call(http.MethodPost, "/api/auth/reset-password", reset, "")
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal("token has already been used"))

		status, _ = c.call(http.MethodPost, "/api/auth/login", credentials{Email: "ada@example.com", Password: "Secret1A"}, "")
		Expect(status).To(Equal(http.StatusUnauthorized))
		status, _ = c.call(http.MethodPost, "/api/auth/login", credentials{Email: "ada@example.com", Password: "Fresh2B"}, "")
		Expect(status).To(Equal(http.StatusOK))

		var used int
		Expect(pool.QueryRow(context.Background(), "SELECT count(*) FROM used_reset_tokens").Scan(&used)).To(Succeed())
		Expect(used).To(Equal(1))
	})

	It("does not accept a reset token as a session", func() {
		c.call(http.MethodPost, "/api/auth/register",
			credentials{Name: "Ada", Email: "ada@example.com", Password: "Secret1A"}, "")
		c.call(http.MethodPost, "/api/auth/forgot-password", credentials{Email: "ada@example.com"}, "")

		status, body := c.call(http.MethodGet, "/api/auth/me", nil, box.resetToken())
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal("invalid token"))
	})
})

var _ = Describe("Reset replay protection over Redis", func() {
	var (
		mr   *miniredis.Miniredis
		rdb  *goredis.Client
		c    *client
		box  *mailbox
		stop func()
	)

	BeforeEach(func() {
		truncate()
		mr = miniredis.NewMiniRedis()
		Expect(mr.Start()).To(Succeed())
		rdb = goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		c, box, stop = newStack(authredis.NewUsedTokenStore(rdb, authredis.DefaultKeyPrefix))
	})

	AfterEach(func() {
		stop()
		Expect(rdb.Close()).To(Succeed())
		mr.Close()
	})

	It("burns the token in redis until it would have expired", func() {
		c.call(http.MethodPost, "/api/auth/register",
			credentials{Name: "Ada", Email: "ada@example.com", Password: "Secret1A"}, "")
		c.call(http.MethodPost, "/api/auth/forgot-password", credentials{Email: "ada@example.com"}, "")
		token := box.resetToken()

		reset := map[string]string{"token": token, "newPassword": "Fresh2B"}
		status, _ := c.call(http.MethodPost, "/api/auth/reset-password", reset, "")
		Expect(status).To(Equal(http.StatusOK))

		keys := mr.Keys()
		Expect(keys).To(HaveLen(1))
		Expect(mr.TTL(keys[0])).To(BeNumerically("<=", auth.PasswordResetTTL))

		status, body := c.call(http.MethodPost, "/api/auth/reset-password", reset, "")
		Expect(status).To(Equal(http.StatusUnauthorized))
		Expect(body["message"]).To(Equal("token has already been used"))
	})
})
