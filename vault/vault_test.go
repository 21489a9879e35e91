package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/crypto"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/kms"
	"github.com/root-sector-ltd-and-co-kg/framesync/storage"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var (
	password      = []byte("correct horse battery staple")
	wrongPassword = []byte("correct horse battery stapler")
)

type recordingAuditLogger struct {
	mu     sync.Mutex
	events []*types.AuditEvent
}

func (r *recordingAuditLogger) LogEvent(_ context.Context, event *types.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func newTestVault(t *testing.T, store interfaces.Store, opts ...Option) *Vault {
	t.Helper()
	opts = append([]Option{WithIterations(crypto.MinIterations)}, opts...)
	v, err := New(store, crypto.NewService(), opts...)
	require.NoError(t, err)
	return v
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, crypto.NewService())
	assert.Error(t, err)

	_, err = New(storage.NewMemoryAdapter(), nil)
	assert.Error(t, err)

	_, err = New(storage.NewMemoryAdapter(), crypto.NewService(), WithIterations(1000))
	assert.ErrorIs(t, err, crypto.ErrIterationsTooLow)
}

func TestLockedVaultRejectsOperations(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, storage.NewMemoryAdapter())

	assert.False(t, v.IsUnlocked())

	_, err := v.Get("token")
	assert.ErrorIs(t, err, ErrLocked)

	assert.ErrorIs(t, v.Set(ctx, "token", []byte("abc123")), ErrLocked)
	assert.ErrorIs(t, v.Remove(ctx, "token"), ErrLocked)

	_, err = v.Keys()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestFirstUnlockCreatesSaltOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	assert.True(t, v.IsUnlocked())

	raw, err := store.Get(ctx, SaltRecordKey)
	require.NoError(t, err)

	var record saltRecord
	require.NoError(t, json.Unmarshal(raw, &record))
	assert.Equal(t, saltRecordVersion, record.Version)
	assert.Equal(t, kdfName, record.KDF)
	assert.Equal(t, crypto.MinIterations, record.Iterations)
	assert.Len(t, record.Salt, crypto.SaltSize)

	_, err = store.Get(ctx, BlobRecordKey)
	assert.ErrorIs(t, err, types.ErrNotFound)

	keys, err := v.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestTokenScenario(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	v.Lock()
	assert.False(t, v.IsUnlocked())

	require.NoError(t, v.Unlock(ctx, password))
	token, err := v.GetString("token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestWrongPasswordKeepsVaultLocked(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	v.Lock()

	err := v.Unlock(ctx, wrongPassword)
	assert.ErrorIs(t, err, ErrUnlockFailed)
	assert.False(t, v.IsUnlocked())
	assert.NotContains(t, err.Error(), "abc123")

	_, err = v.Get("token")
	assert.ErrorIs(t, err, ErrLocked)
}

func TestCorruptedBlobIsIndistinguishableFromWrongPassword(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	v.Lock()

	sealed, err := store.Get(ctx, BlobRecordKey)
	require.NoError(t, err)
	sealed[len(sealed)/2] ^= 0xff
	require.NoError(t, store.Put(ctx, BlobRecordKey, sealed))

	corruptErr := v.Unlock(ctx, password)
	wrongErr := v.Unlock(ctx, wrongPassword)

	assert.ErrorIs(t, corruptErr, ErrUnlockFailed)
	assert.ErrorIs(t, wrongErr, ErrUnlockFailed)
	assert.Equal(t, corruptErr.Error(), wrongErr.Error())
	assert.False(t, v.IsUnlocked())
}

func TestUnlockWhileUnlocked(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, storage.NewMemoryAdapter())

	require.NoError(t, v.Unlock(ctx, password))
	assert.ErrorIs(t, v.Unlock(ctx, wrongPassword), ErrAlreadyUnlocked)
	assert.True(t, v.IsUnlocked())
}

func TestLockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, storage.NewMemoryAdapter())

	v.Lock()
	require.NoError(t, v.Unlock(ctx, password))
	v.Lock()
	v.Lock()
	assert.False(t, v.IsUnlocked())
}

func TestGetMissingKey(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, storage.NewMemoryAdapter())
	require.NoError(t, v.Unlock(ctx, password))

	_, err := v.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.ErrorIs(t, v.Remove(ctx, "missing"), ErrKeyNotFound)
	assert.Error(t, v.Set(ctx, "", []byte("x")))
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	v := newTestVault(t, storage.NewMemoryAdapter())
	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))

	value, err := v.Get("token")
	require.NoError(t, err)
	value[0] = 'X'

	again, err := v.GetString("token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", again)
}

func TestRemovePersists(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "a", []byte("1")))
	require.NoError(t, v.Set(ctx, "b", []byte("2")))
	require.NoError(t, v.Remove(ctx, "a"))
	v.Lock()

	require.NoError(t, v.Unlock(ctx, password))
	keys, err := v.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys)
}

func TestConcurrentSetsLoseNoUpdate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)
	require.NoError(t, v.Unlock(ctx, password))

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, v.Set(ctx, fmt.Sprintf("key-%02d", i), []byte(fmt.Sprintf("value-%d", i))))
		}(i)
	}
	wg.Wait()
	v.Lock()

	require.NoError(t, v.Unlock(ctx, password))
	keys, err := v.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, writers)
	for i := 0; i < writers; i++ {
		got, err := v.GetString(fmt.Sprintf("key-%02d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("value-%d", i), got)
	}
}

type failingPutStore struct {
	interfaces.Store
	fail bool
}

func (f *failingPutStore) Put(ctx context.Context, key string, value []byte) error {
	if f.fail && key == BlobRecordKey {
		return fmt.Errorf("disk full")
	}
	return f.Store.Put(ctx, key, value)
}

func TestFailedPersistKeepsPreviousEntries(t *testing.T) {
	ctx := context.Background()
	store := &failingPutStore{Store: storage.NewMemoryAdapter()}
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))

	store.fail = true
	err := v.Set(ctx, "token", []byte("changed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	token, err := v.GetString("token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
}

func TestSaltRecordBelowMinimumIsRejected(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()

	weak, err := json.Marshal(saltRecord{
		Version:    saltRecordVersion,
		KDF:        kdfName,
		Iterations: 1000,
		Salt:       []byte("0123456789abcdef"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, SaltRecordKey, weak))

	v := newTestVault(t, store)
	assert.ErrorIs(t, v.Unlock(ctx, password), ErrUnlockFailed)
	assert.False(t, v.IsUnlocked())
}

func TestFailedUnlocksAreThrottled(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store, WithUnlockLimiter(rate.NewLimiter(rate.Every(time.Hour), 2)))

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	v.Lock()

	assert.ErrorIs(t, v.Unlock(ctx, wrongPassword), ErrUnlockFailed)
	assert.ErrorIs(t, v.Unlock(ctx, wrongPassword), ErrUnlockFailed)
	assert.ErrorIs(t, v.Unlock(ctx, password), ErrUnlockThrottled)

	err := v.Unlock(ctx, wrongPassword)
	assert.ErrorIs(t, err, ErrUnlockThrottled)
	assert.ErrorIs(t, err, ErrUnlockFailed)
	assert.False(t, v.IsUnlocked())
}

func TestWrongPasswordAlwaysFailsToUnlock(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryAdapter()
	v := newTestVault(t, store)

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	v.Lock()

	for i := 0; i < 7; i++ {
		assert.ErrorIs(t, v.Unlock(ctx, wrongPassword), ErrUnlockFailed, "attempt %d", i+1)
		assert.False(t, v.IsUnlocked())
	}
}

func TestAuditEventsNeverCarryValues(t *testing.T) {
	ctx := context.Background()
	logger := &recordingAuditLogger{}
	v := newTestVault(t, storage.NewMemoryAdapter(), WithAuditLogger(logger))

	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	require.NoError(t, v.Remove(ctx, "token"))
	v.Lock()

	require.Len(t, logger.events, 4)
	assert.Equal(t, "vault.unlock", logger.events[0].EventType)
	assert.Equal(t, "vault.set", logger.events[1].EventType)
	assert.Equal(t, "token", logger.events[1].Context["vaultKey"])
	assert.Equal(t, "vault.remove", logger.events[2].EventType)
	assert.Equal(t, "vault.lock", logger.events[3].EventType)

	for _, event := range logger.events {
		for _, value := range event.Context {
			assert.NotContains(t, value, "abc123")
		}
	}
}

func TestEnvelopeWrappedStore(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemoryAdapter()

	provider, err := kms.NewProvider(kms.Config{
		Type:          types.ProviderAead,
		AeadKeyBase64: base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef")),
	})
	require.NoError(t, err)

	v := newTestVault(t, storage.NewEnvelopeAdapter(inner, provider))
	require.NoError(t, v.Unlock(ctx, password))
	require.NoError(t, v.Set(ctx, "token", []byte("abc123")))
	v.Lock()

	raw, err := inner.Get(ctx, SaltRecordKey)
	require.NoError(t, err)
	assert.False(t, json.Valid(raw), "salt record must be wrapped before reaching the backend")

	require.NoError(t, v.Unlock(ctx, password))
	token, err := v.GetString("token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", token)
	v.Lock()

	otherProvider, err := kms.NewProvider(kms.Config{
		Type:          types.ProviderAead,
		AeadKeyBase64: base64.StdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210")),
	})
	require.NoError(t, err)

	other := newTestVault(t, storage.NewEnvelopeAdapter(inner, otherProvider))
	assert.ErrorIs(t, other.Unlock(ctx, password), ErrUnlockFailed)
}

func TestRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 10

	properties := gopter.NewProperties(parameters)
	properties.Property("unlock, lock, unlock reconstructs the mapping", prop.ForAll(
		func(pw string, keys []string, value string) bool {
			ctx := context.Background()
			v, err := New(storage.NewMemoryAdapter(), crypto.NewService(), WithIterations(crypto.MinIterations))
			if err != nil {
				return false
			}
			if err := v.Unlock(ctx, []byte(pw)); err != nil {
				return false
			}
			want := make(map[string]string)
			for i, k := range keys {
				if k == "" {
					continue
				}
				val := fmt.Sprintf("%s-%d", value, i)
				if err := v.Set(ctx, k, []byte(val)); err != nil {
					return false
				}
				want[k] = val
			}
			v.Lock()
			if err := v.Unlock(ctx, []byte(pw)); err != nil {
				return false
			}
			got, err := v.Keys()
			if err != nil || len(got) != len(want) {
				return false
			}
			for k, val := range want {
				stored, err := v.GetString(k)
				if err != nil || stored != val {
					return false
				}
			}
			return true
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.SliceOfN(4, gen.Identifier()),
		gen.AnyString(),
	))
	properties.TestingRun(t)
}
