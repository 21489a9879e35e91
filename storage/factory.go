package storage

import (
	"context"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/rs/zerolog/log"
)

// Backend names a Store implementation
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendPebble Backend = "pebble"
	BackendRedis  Backend = "redis"
	BackendMongo  Backend = "mongodb"
)

// Options selects and configures a backend
type Options struct {
	Backend Backend

	// KeyPrefix namespaces all keys, useful on shared redis/mongo deployments
	KeyPrefix string

	PebbleDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	// Envelope, when set, wraps every value with an external KMS key
	Envelope interfaces.KMSProvider
}

// Open builds the configured store
func Open(ctx context.Context, opts Options) (interfaces.Store, error) {
	var store interfaces.Store

	switch opts.Backend {
	case BackendMemory, "":
		store = NewMemoryAdapter()
	case BackendPebble:
		if opts.PebbleDir == "" {
			return nil, fmt.Errorf("pebble backend requires a directory")
		}
		p, err := OpenPebble(opts.PebbleDir)
		if err != nil {
			return nil, err
		}
		store = p
	case BackendRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis backend requires an address")
		}
		r := NewRedisAdapter(opts.RedisAddr, opts.RedisPassword, opts.RedisDB)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, err
		}
		store = r
	case BackendMongo:
		if opts.MongoURI == "" || opts.MongoDatabase == "" {
			return nil, fmt.Errorf("mongodb backend requires a URI and a database")
		}
		m, err := ConnectMongo(ctx, opts.MongoURI, opts.MongoDatabase, opts.MongoCollection)
		if err != nil {
			return nil, err
		}
		store = m
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", opts.Backend)
	}

	store = NewPrefixAdapter(store, opts.KeyPrefix)
	if opts.Envelope != nil {
		store = NewEnvelopeAdapter(store, opts.Envelope)
	}

	log.Info().
		Str("backend", string(opts.Backend)).
		Bool("envelope", opts.Envelope != nil).
		Msg("Vault storage opened")

	return store, nil
}
