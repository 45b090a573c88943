package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

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
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return def
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

// relbench: N 个用户并发关注同一个大 V，测量 follow / 列表 / 计数 / 取关 的延迟
func main() {
	ctx := context.Background()
	cfg := must(config.Load())
	cfg.Queue.Driver = "memory"
	cfg.Timeline.ImportOnFollow = false
	cfg.Timeline.RemoveOnUnfollow = false
	a, cleanup, err := app.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	N := envInt("N", 10000)
	CONC := envInt("CONC", 8)
	PAGE := envInt("PAGE", 50)

	celeb := &model.User{Username: fmt.Sprintf("celeb_%d", time.Now().UnixNano())}
	if err := a.Repos.Users.Create(ctx, celeb); err != nil {
		panic(err)
	}
	celebRef := registry.Ref{Kind: model.KindUser, ID: celeb.ID}

	users := make([]model.User, N)
	tag := time.Now().UnixNano()
	for i := range users {
		users[i] = model.User{Username: fmt.Sprintf("u%d_%d", tag, i), Age: 18 + i%40}
	}
	if err := a.DB.CreateInBatches(&users, 1000).Error; err != nil {
		panic(err)
	}

	run := func(op func(from registry.Ref) error) ([]time.Duration, time.Duration) {
		feed := make(chan int, N)
		for i := 0; i < N; i++ {
			feed <- i
		}
		close(feed)
		out := make(chan time.Duration, N)
		done := make(chan struct{})
		t0 := time.Now()
		for w := 0; w < CONC; w++ {
			go func() {
				for i := range feed {
					st := time.Now()
					if err := op(registry.Ref{Kind: model.KindUser, ID: users[i].ID}); err != nil {
						fmt.Fprintln(os.Stderr, err)
					}
					out <- time.Since(st)
				}
				done <- struct{}{}
			}()
		}
		for w := 0; w < CONC; w++ {
			<-done
		}
		total := time.Since(t0)
		close(out)
		recs := make([]time.Duration, 0, N)
		for d := range out {
			recs = append(recs, d)
		}
		return recs, total
	}

	followRecs, followDur := run(func(from registry.Ref) error { return a.Graph.Follow(ctx, from, celebRef) })

	q0 := time.Now()
	p := must(graph.ListFollowers(ctx, a.Graph, celebRef, true))
	page := must(p.Slice(ctx, 0, int64(PAGE)))
	listDur := time.Since(q0)

	q1 := time.Now()
	n := must(a.Graph.Count(ctx, celebRef, graph.Followers, ""))
	countDur := time.Since(q1)

	q2 := time.Now()
	ok := must(a.Graph.IsFollowing(ctx, registry.Ref{Kind: model.KindUser, ID: users[N-1].ID}, celebRef))
	isDur := time.Since(q2)

	unfollowRecs, unfollowDur := run(func(from registry.Ref) error { return a.Graph.Unfollow(ctx, from, celebRef) })

	fmt.Printf("N=%d, CONC=%d, PAGE=%d\n", N, CONC, PAGE)
	fmt.Printf("Follow total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		followDur, followDur/time.Duration(N), pct(followRecs, 0.50), pct(followRecs, 0.95), pct(followRecs, 0.99))
	fmt.Printf("Followers page(%d) with hydration: %v, rows=%d\n", PAGE, listDur, len(page))
	fmt.Printf("Followers count: %v, n=%d\n", countDur, n)
	fmt.Printf("IsFollowing: %v, result=%v\n", isDur, ok)
	fmt.Printf("Unfollow total: %v, per op: %v, p50: %v, p95: %v, p99: %v\n",
		unfollowDur, unfollowDur/time.Duration(N), pct(unfollowRecs, 0.50), pct(unfollowRecs, 0.95), pct(unfollowRecs, 0.99))
}
