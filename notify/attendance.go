package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nedpals/davi-felica-agent/config"
	"github.com/nedpals/davi-felica-agent/session"
)

// attendanceStore is the part of *redis.Client the attendance store uses.
type attendanceStore interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// Attendance records each successful read in Redis:
//
//	SADD   <prefix>:<YYYY-MM-DD> <id>
//	HSET   <prefix>:student:<id> name role classification last_seen
//	EXPIRE <prefix>:<YYYY-MM-DD> <ttl>
type Attendance struct {
	store  attendanceStore
	prefix string
	ttl    time.Duration
	out    Printer
	logger *log.Logger
	close  func() error
}

// NewAttendance connects to the Redis server in cfg.
func NewAttendance(ctx context.Context, cfg config.RedisConfig, out Printer) (*Attendance, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis: connect %s: %w", cfg.Addr, err)
	}

	a := newAttendance(client, cfg.KeyPrefix, cfg.TTL, out)
	a.close = client.Close
	return a, nil
}

func newAttendance(store attendanceStore, prefix string, ttl time.Duration, out Printer) *Attendance {
	return &Attendance{
		store:  store,
		prefix: prefix,
		ttl:    ttl,
		out:    out,
		logger: log.New(os.Stderr, "[notify] ", log.LstdFlags),
	}
}

// DayKey returns the set of ids seen on the day of t.
func (a *Attendance) DayKey(t time.Time) string {
	return a.prefix + ":" + t.Format("2006-01-02")
}

// StudentKey returns the hash holding the details of id.
func (a *Attendance) StudentKey(id string) string {
	return a.prefix + ":student:" + id
}

// Report records successful reads.
func (a *Attendance) Report(ctx context.Context, ev session.Event) {
	if ev.Type != session.EventReadSuccess || ev.Record == nil {
		return
	}
	r := ev.Record
	day := a.DayKey(ev.Time)

	added, err := a.store.SAdd(ctx, day, r.ID).Result()
	if err != nil {
		a.logger.Printf("Redis SADD %s: %v", day, err)
		a.out.Print(LevelError, "Failed to record attendance.")
		return
	}

	if err := a.store.HSet(ctx, a.StudentKey(r.ID),
		"name", r.Name,
		"role", r.Role.String(),
		"classification", r.Classification,
		"last_seen", ev.Time.Format(time.RFC3339),
	).Err(); err != nil {
		a.logger.Printf("Redis HSET %s: %v", a.StudentKey(r.ID), err)
	}

	if a.ttl > 0 {
		if err := a.store.Expire(ctx, day, a.ttl).Err(); err != nil {
			a.logger.Printf("Redis EXPIRE %s: %v", day, err)
		}
	}

	if added > 0 {
		a.out.Print(LevelInfo, "First check-in today.")
	} else {
		a.out.Print(LevelInfo, "Already checked in today.")
	}
}

// Close closes the Redis connection.
func (a *Attendance) Close() error {
	if a.close == nil {
		return nil
	}
	return a.close()
}
