package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"opinion-poll/internal/core/auth"
	"opinion-poll/internal/domain"
	"opinion-poll/internal/repo"
	"opinion-poll/internal/service"
	"opinion-poll/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

type fixture struct {
	db     *gorm.DB
	jwt    *auth.JWTer
	ids    *service.IdentityResolver
	engine *service.Engine
	polls  *service.PollService
	auth   *service.AuthService
	pub    *recorder
}

func newFixture(t *testing.T, o service.IdentityOpts) *fixture {
	t.Helper()
	return newFixtureOn(t, testutil.NewDB(t), o)
}

func newFixtureOn(t *testing.T, db *gorm.DB, o service.IdentityOpts) *fixture {
	t.Helper()
	j := &auth.JWTer{Secret: []byte("test-secret"), Issuer: "opinion-poll", TTL: time.Hour}
	users := repo.NewUserRepo(db)
	ids := service.NewIdentityResolver(users, j, o, zap.NewNop())
	engine := service.NewEngine(testutil.NewStore(db))
	pub := &recorder{}
	return &fixture{
		db:     db,
		jwt:    j,
		ids:    ids,
		engine: engine,
		pub:    pub,
		polls: service.NewPollService(service.PollServiceDeps{
			Polls:    repo.NewPollRepo(db),
			Engine:   engine,
			Identity: ids,
			Hub:      pub,
			Log:      zap.NewNop(),
		}),
		auth: service.NewAuthService(users, j, []string{"root"}, zap.NewNop()),
	}
}

// forEachBackend runs fn on the single-connection in-memory database and
// on a pooled WAL database where transactions overlap.
func forEachBackend(t *testing.T, fn func(t *testing.T, f *fixture)) {
	backends := []struct {
		name string
		open func(*testing.T) *gorm.DB
	}{
		{"memory", testutil.NewDB},
		{"wal-pool", testutil.NewFileDB},
	}
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, newFixtureOn(t, b.open(t), defaultOpts()))
		})
	}
}

func defaultOpts() service.IdentityOpts {
	return service.IdentityOpts{Salt: "pepper", AllowTestIdentity: true, AllowAnonymousWrites: true}
}

func (f *fixture) anon(t *testing.T, addr string) *service.Identity {
	t.Helper()
	id, err := f.ids.Resolve(context.Background(), service.IdentityRequest{RemoteAddr: addr, UserAgent: "go-test"})
	require.NoError(t, err)
	return id
}

func createInput(title string, options ...string) service.CreatePollInput {
	return service.CreatePollInput{Title: title, Options: options}
}
