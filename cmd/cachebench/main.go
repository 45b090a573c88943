package main

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/app"
	"github.com/d60-Lab/followgraph/internal/graph"
	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

type request struct {
	owner registry.Ref
	page  int64
	size  int64
}

// cachebench: 比较粉丝列表 hydrate 时直接查库与经过实体快照缓存的延迟
func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	cfg.Queue.Driver = "memory"
	cfg.Timeline.ImportOnFollow = false

	USERS := envInt("USERS", 20000)
	REQS := envInt("REQS", 3000)
	SIZE := envInt("SIZE", 20)

	cfg.Cache.Enabled = false
	plain, cleanupPlain, err := app.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer cleanupPlain()

	cfg.Cache.Enabled = true
	cached, cleanupCached, err := app.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer cleanupCached()

	// 3 个大 V，粉丝两两重叠一半
	tag := time.Now().UnixNano()
	stars := make([]registry.Ref, 3)
	for i := range stars {
		u := &model.User{Username: fmt.Sprintf("star%d_%d", i, tag)}
		if err := plain.Repos.Users.Create(ctx, u); err != nil {
			panic(err)
		}
		stars[i] = registry.Ref{Kind: model.KindUser, ID: u.ID}
	}
	users := make([]model.User, USERS)
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("user%d_%d", tag, i), Age: 18 + i%20}
	}
	if err := plain.DB.CreateInBatches(&users, 1000).Error; err != nil {
		panic(err)
	}
	half := USERS / 2
	for s, star := range stars {
		offset := s * USERS / 4
		for i := 0; i < half; i++ {
			fan := registry.Ref{Kind: model.KindUser, ID: users[(offset+i)%USERS].ID}
			if err := plain.Graph.Follow(ctx, fan, star); err != nil {
				panic(err)
			}
		}
	}
	fmt.Println("Test data ready: 3 stars with overlapping followers")

	rng := rand.New(rand.NewSource(42))
	reqs := make([]request, REQS)
	pages := int64(half / SIZE)
	if pages < 1 {
		pages = 1
	}
	for i := range reqs {
		// 前几页更热
		page := int64(math.Min(float64(pages-1), math.Abs(rng.NormFloat64())*float64(pages)/8))
		reqs[i] = request{owner: stars[rng.Intn(len(stars))], page: page, size: int64(SIZE)}
	}

	run := func(a *app.App, warm bool) []time.Duration {
		call := func(r request) {
			p := must(graph.ListFollowers(ctx, a.Graph, r.owner, true))
			_ = must(p.Slice(ctx, r.page*r.size, (r.page+1)*r.size))
		}
		if warm {
			for _, r := range reqs {
				call(r)
			}
		}
		out := make([]time.Duration, 0, len(reqs))
		for _, r := range reqs {
			st := time.Now()
			call(r)
			out = append(out, time.Since(st))
		}
		return out
	}

	noCache := run(plain, false)
	cached.UserCache.Reset()
	withCache := run(cached, true)
	c := cached.UserCache.Counters()

	keys := countKeys(ctx, cached.Redis, cfg.Cache.Prefix+"*")
	mem := usedMemory(ctx, cached.Redis)

	fmt.Printf("\nFollower page hydration (%d req across 3 stars, %d users)\n", REQS, USERS)
	fmt.Printf("%-12s avg=%v p95=%v p99=%v\n", "No cache", avg(noCache), pct(noCache, 0.95), pct(noCache, 0.99))
	fmt.Printf("%-12s avg=%v p95=%v p99=%v hits=%d misses=%d db_loads=%d cache_keys=%d mem=%s\n",
		"Entity cache", avg(withCache), pct(withCache, 0.95), pct(withCache, 0.99),
		c.Hits, c.Misses, c.Loads, keys, formatBytes(mem))
}

func countKeys(ctx context.Context, rdb redis.UniversalClient, match string) int {
	var n int
	iter := rdb.Scan(ctx, 0, match, 1000).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n
}

func usedMemory(ctx context.Context, rdb redis.UniversalClient) int64 {
	info, err := rdb.Info(ctx, "memory").Result()
	if err != nil {
		return 0
	}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		if v, ok := strings.CutPrefix(strings.TrimSpace(sc.Text()), "used_memory:"); ok {
			n, _ := strconv.ParseInt(v, 10, 64)
			return n
		}
	}
	return 0
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
