package verification

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voiceai-dashboard/internal/audit"
)

type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func (m *captureMailer) SendCode(ctx context.Context, email, code string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = map[string]string{}
	}
	m.codes[email] = code
	return nil
}

func (m *captureMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

type verifiedUsers struct {
	mu    sync.Mutex
	users map[string]string
}

func (v *verifiedUsers) MarkVerified(ctx context.Context, userID, email string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.users == nil {
		v.users = map[string]string{}
	}
	v.users[userID] = email
	return nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *Service
	mailer *captureMailer
	users  *verifiedUsers
	events *audit.MemoryRepo
	clock  *clock
}

func newFixture(t *testing.T, store func(*clock) CodeStore) fixture {
	t.Helper()
	c := &clock{now: time.Now().UTC()}
	f := fixture{mailer: &captureMailer{}, users: &verifiedUsers{}, events: audit.NewMemoryRepo(), clock: c}
	f.svc = NewService(Config{
		Store:  store(c),
		Mailer: f.mailer,
		Users:  f.users,
		Audit:  audit.NewService(f.events),
		Clock:  c.Now,
	})
	return f
}

func stores(t *testing.T) map[string]func(*clock) CodeStore {
	return map[string]func(*clock) CodeStore{
		"memory": func(c *clock) CodeStore { return NewMemoryCodeStore(c.Now) },
		"redis": func(c *clock) CodeStore {
			mr := miniredis.RunT(t)
			s, err := NewRedisCodeStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")
			require.NoError(t, err)
			return s
		},
	}
}

func TestNewCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewCode(rand.Reader)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		assert.NotEqual(t, byte('0'), code[0])
	}
}

func TestVerify_HappyPathIsSingleUse(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk)
			ctx := context.Background()

			res, err := f.svc.Send(ctx, "u1", "a@example.com")
			require.NoError(t, err)
			assert.Empty(t, res.Code)
			code := f.mailer.code("a@example.com")
			require.Len(t, code, 6)

			require.NoError(t, f.svc.Verify(ctx, "t1", "u1", code))
			assert.Equal(t, "a@example.com", f.users.users["u1"])
			require.Len(t, f.events.Events(), 1)
			assert.Equal(t, audit.EventEmailVerified, f.events.Events()[0].Type)

			assert.ErrorIs(t, f.svc.Verify(ctx, "t1", "u1", code), ErrNoCode)
		})
	}
}

func TestVerify_ConcurrentCorrectCodesSucceedOnce(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk)
			ctx := context.Background()

			_, err := f.svc.Send(ctx, "u1", "a@example.com")
			require.NoError(t, err)
			code := f.mailer.code("a@example.com")

			const n = 8
			errs := make([]error, n)
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					errs[i] = f.svc.Verify(ctx, "t1", "u1", code)
				}(i)
			}
			close(start)
			wg.Wait()

			ok := 0
			for _, err := range errs {
				if err == nil {
					ok++
					continue
				}
				assert.ErrorIs(t, err, ErrNoCode)
			}
			assert.Equal(t, 1, ok)
			assert.Len(t, f.events.Events(), 1)
		})
	}
}

func TestCodeStore_ConsumeRequiresCurrentCode(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c := &clock{now: time.Now().UTC()}
			store := mk(c)
			ctx := context.Background()
			p := Pending{Code: "123456", Email: "a@example.com", ExpiresAt: c.Now().Add(time.Minute)}
			require.NoError(t, store.Save(ctx, "u1", p))

			ok, err := store.Consume(ctx, "u1", "654321")
			require.NoError(t, err)
			assert.False(t, ok)

			ok, err = store.Consume(ctx, "u1", "123456")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = store.Consume(ctx, "u1", "123456")
			require.NoError(t, err)
			assert.False(t, ok)
			_, err = store.Load(ctx, "u1")
			assert.ErrorIs(t, err, ErrNoCode)
		})
	}
}

func TestVerify_WrongCodeAndAttemptLimit(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, mk)
			ctx := context.Background()

			_, err := f.svc.Send(ctx, "u1", "a@example.com")
			require.NoError(t, err)
			code := f.mailer.code("a@example.com")
			wrong := "000000"

			for i := 1; i < DefaultMaxAttempts; i++ {
				assert.ErrorIs(t, f.svc.Verify(ctx, "t1", "u1", wrong), ErrMismatch)
			}
			assert.ErrorIs(t, f.svc.Verify(ctx, "t1", "u1", wrong), ErrTooManyAttempts)
			assert.ErrorIs(t, f.svc.Verify(ctx, "t1", "u1", code), ErrNoCode)
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t, func(c *clock) CodeStore {
		// a store that never expires on its own
		return NewMemoryCodeStore(func() time.Time { return time.Time{} })
	})
	ctx := context.Background()

	_, err := f.svc.Send(ctx, "u1", "a@example.com")
	require.NoError(t, err)
	f.clock.Advance(DefaultTTL + time.Second)
	assert.ErrorIs(t, f.svc.Verify(ctx, "t1", "u1", f.mailer.code("a@example.com")), ErrExpired)
}

func TestSend_ValidatesAndExposesCodeLocally(t *testing.T) {
	mailer := &captureMailer{}
	svc := NewService(Config{Store: NewMemoryCodeStore(nil), Mailer: mailer, Users: &verifiedUsers{}, ExposeCode: true})
	ctx := context.Background()

	_, err := svc.Send(ctx, "u1", "not-an-email")
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Send(ctx, "", "a@example.com")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	res, err := svc.Send(ctx, "u1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, mailer.code("a@example.com"), res.Code)
}

func TestResendMailer_PostsEmail(t *testing.T) {
	var got resendEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := &ResendMailer{APIKey: "re_test", From: "Voice AI <onboarding@resend.dev>", BaseURL: srv.URL}
	require.NoError(t, m.SendCode(context.Background(), "a@example.com", "123456", 10*time.Minute))
	assert.Equal(t, []string{"a@example.com"}, got.To)
	assert.True(t, strings.Contains(got.Text, "123456"))
	assert.Contains(t, got.HTML, "expires in 10 minutes")
}

func TestResendMailer_ReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "domain not verified", http.StatusForbidden)
	}))
	defer srv.Close()

	m := &ResendMailer{APIKey: "re_test", BaseURL: srv.URL}
	err := m.SendCode(context.Background(), "a@example.com", "123456", time.Minute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
