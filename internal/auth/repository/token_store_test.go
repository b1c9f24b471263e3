package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/internal/auth/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyRepo struct {
	mu    sync.Mutex
	down  bool
	rows  map[string]*authdomain.TokenData
	saves int
}

func newFlakyRepo() *flakyRepo {
	return &flakyRepo{rows: make(map[string]*authdomain.TokenData)}
}

var errDown = errors.New("connection refused")

func (r *flakyRepo) setDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

func (r *flakyRepo) Save(_ context.Context, t *authdomain.TokenData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.down {
		return errDown
	}
	r.rows[t.Key()] = t.Clone()
	return nil
}

func (r *flakyRepo) Find(_ context.Context, p authdomain.Provider, account string) (*authdomain.TokenData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return nil, errDown
	}
	return r.rows[authdomain.TokenKey(p, account)].Clone(), nil
}

func (r *flakyRepo) Delete(_ context.Context, p authdomain.Provider, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return errDown
	}
	delete(r.rows, authdomain.TokenKey(p, account))
	return nil
}

func gmailToken(account, access string) *authdomain.TokenData {
	return &authdomain.TokenData{
		Provider: authdomain.ProviderGmail,
		Account:  account,
		Google:   &authdomain.GoogleToken{AccessToken: access, RefreshToken: "r"},
	}
}

func TestTokenStore_StoreAndRetrieveWhileDurableDown(t *testing.T) {
	repo := newFlakyRepo()
	repo.setDown(true)
	store := repository.NewTokenStore(repo)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "t1")))

	got := store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com")
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.AccessToken())
}

func TestTokenStore_DirtyEntryWinsOverStaleDurableRow(t *testing.T) {
	repo := newFlakyRepo()
	store := repository.NewTokenStore(repo)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "old")))
	repo.setDown(true)
	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "new")))
	repo.setDown(false)

	got := store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com")
	require.NotNil(t, got)
	assert.Equal(t, "new", got.AccessToken())
}

func TestTokenStore_ReconcileFlushesDirtyEntries(t *testing.T) {
	repo := newFlakyRepo()
	repo.setDown(true)
	store := repository.NewTokenStore(repo)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "t1")))
	assert.Equal(t, 1, store.Reconcile(ctx))

	repo.setDown(false)
	assert.Equal(t, 0, store.Reconcile(ctx))

	row, err := repo.Find(ctx, authdomain.ProviderGmail, "a@x.com")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "t1", row.AccessToken())
}

func TestTokenStore_RetrieveFallsBackToMemoryWhenRowMissing(t *testing.T) {
	repo := newFlakyRepo()
	store := repository.NewTokenStore(repo)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "t1")))
	require.NoError(t, repo.Delete(ctx, authdomain.ProviderGmail, "a@x.com"))

	got := store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com")
	require.NotNil(t, got)
	assert.Equal(t, "t1", got.AccessToken())
}

func TestTokenStore_RetrievePrefersDurable(t *testing.T) {
	repo := newFlakyRepo()
	store := repository.NewTokenStore(repo)
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "t1")))
	require.NoError(t, repo.Save(ctx, gmailToken("a@x.com", "from-other-instance")))

	got := store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com")
	require.NotNil(t, got)
	assert.Equal(t, "from-other-instance", got.AccessToken())
}

func TestTokenStore_MemoryOnly(t *testing.T) {
	store := repository.NewTokenStore(nil)
	ctx := context.Background()

	assert.Nil(t, store.Retrieve(ctx, authdomain.ProviderOutlook, "nobody@x.com"))
	require.NoError(t, store.Store(ctx, gmailToken("a@x.com", "t1")))

	got := store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com")
	require.NotNil(t, got)
	got.Google.AccessToken = "mutated"
	assert.Equal(t, "t1", store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com").AccessToken())

	store.Delete(ctx, authdomain.ProviderGmail, "a@x.com")
	assert.Nil(t, store.Retrieve(ctx, authdomain.ProviderGmail, "a@x.com"))
}

func TestTokenStore_RejectsInvalidToken(t *testing.T) {
	store := repository.NewTokenStore(nil)
	err := store.Store(context.Background(), &authdomain.TokenData{Provider: authdomain.ProviderGmail})
	assert.ErrorIs(t, err, authdomain.ErrMissingAccount)
}
