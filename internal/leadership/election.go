package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/skuld/internal/telemetry"
)

const (
	sweeperLeaseKey      = "skuld:leader:sweeper"
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// releaseScript deletes the lease only while we still own it, so a
// slow shutdown cannot evict a successor.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// ElectionConfig configures the sweeper lease.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the lease.
	ElectionKey string

	// LeaseDuration bounds how long a crashed leader blocks takeover.
	LeaseDuration time.Duration

	// RetryInterval is how often candidates contest the lease. Must be
	// comfortably under LeaseDuration or the leader loses its own lease
	// between renewals.
	RetryInterval time.Duration

	InstanceID string
}

// DefaultConfig returns the default election settings.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		RedisAddr:     "localhost:6379",
		ElectionKey:   sweeperLeaseKey,
		LeaseDuration: defaultLeaseDuration,
		RetryInterval: defaultRetryInterval,
		InstanceID:    uuid.NewString(),
	}
}

// Election holds or contests the sweeper lease in Redis. Exactly one
// instance owns the lease at a time, so the completion sweep runs once
// per interval across the whole deployment.
type Election struct {
	client     *redis.Client
	cfg        ElectionConfig
	instanceID string
	logger     zerolog.Logger

	leading  atomic.Bool
	leaderCh chan bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewElection connects to Redis and prepares a candidate. The campaign
// does not start until Start is called.
func NewElection(cfg ElectionConfig, logger zerolog.Logger) (*Election, error) {
	if cfg.ElectionKey == "" {
		cfg.ElectionKey = sweeperLeaseKey
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("leadership redis ping: %w", err)
	}

	return &Election{
		client:     client,
		cfg:        cfg,
		instanceID: cfg.InstanceID,
		logger: logger.With().
			Str("component", "leadership").
			Str("instance_id", cfg.InstanceID).
			Logger(),
		leaderCh: make(chan bool, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the campaign loop.
func (e *Election) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.logger.Info().
		Dur("lease", e.cfg.LeaseDuration).
		Dur("retry", e.cfg.RetryInterval).
		Msg("contesting sweeper lease")

	go e.campaign(ctx)
	return nil
}

// Stop ends the campaign, releases the lease if held, and closes the
// Redis client.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}

	if e.leading.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.release(ctx); err != nil {
			e.logger.Error().Err(err).Msg("lease release failed")
		}
	}
	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	return e.leading.Load()
}

// LeaderCh receives leadership transitions. A full channel drops the
// notification; IsLeader stays authoritative.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// GetLeader returns the current lease holder's instance ID, empty when
// the lease is vacant.
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	holder, err := e.client.Get(ctx, e.cfg.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lease: %w", err)
	}
	return holder, nil
}

func (e *Election) campaign(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		held, err := e.acquireOrRenew(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error().Err(err).Msg("lease attempt failed")
			e.setLeading(false)
			continue
		}
		e.setLeading(held)
	}
}

// acquireOrRenew takes the lease when vacant, renews it when we hold
// it, and reports false when another instance does.
func (e *Election) acquireOrRenew(ctx context.Context) (bool, error) {
	won, err := e.client.SetNX(ctx, e.cfg.ElectionKey, e.instanceID, e.cfg.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("take lease: %w", err)
	}
	if won {
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.cfg.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SetNX and Get; next tick contests it.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lease: %w", err)
	}
	if holder != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.cfg.ElectionKey, e.cfg.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) release(ctx context.Context) error {
	if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.ElectionKey}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	e.logger.Info().Msg("sweeper lease released")
	return nil
}

func (e *Election) setLeading(leading bool) {
	if !e.leading.CompareAndSwap(!leading, leading) {
		return
	}

	if leading {
		telemetry.LeaderStatus.Set(1)
		e.logger.Info().Msg("acquired sweeper lease")
	} else {
		telemetry.LeaderStatus.Set(0)
		e.logger.Warn().Msg("lost sweeper lease")
	}

	select {
	case e.leaderCh <- leading:
	default:
	}
}
