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
	"github.com/d60-Lab/followgraph/internal/model"
	"github.com/d60-Lab/followgraph/internal/registry"
	"github.com/d60-Lab/followgraph/internal/service"
	"github.com/d60-Lab/followgraph/internal/timeline"
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

// fanoutbench: 一个作者 N 个粉丝，发布 POSTS 条帖子，测量发布延迟、扇出落地耗时与时间线读取
func main() {
	ctx := context.Background()
	cfg := must(config.Load())

	N := envInt("N", 20000)
	POSTS := envInt("POSTS", 100)
	cfg.Queue.Workers = envInt("WORKERS", cfg.Queue.Workers)
	cfg.Timeline.DispatchPageSize = envInt("PAGE", 100)
	cfg.Timeline.ImportOnFollow = false

	a, cleanup, err := app.Open(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	tag := time.Now().UnixNano()
	author := &model.User{Username: fmt.Sprintf("author_%d", tag)}
	if err := a.Repos.Users.Create(ctx, author); err != nil {
		panic(err)
	}
	authorRef := registry.Ref{Kind: model.KindUser, ID: author.ID}

	fans := make([]model.User, N)
	for i := range fans {
		fans[i] = model.User{Username: fmt.Sprintf("fan%d_%d", tag, i)}
	}
	if err := a.DB.CreateInBatches(&fans, 1000).Error; err != nil {
		panic(err)
	}
	seed := time.Now()
	for i := range fans {
		if err := a.Graph.Follow(ctx, registry.Ref{Kind: model.KindUser, ID: fans[i].ID}, authorRef); err != nil {
			panic(err)
		}
	}
	fmt.Printf("seeded %d followers in %v\n", N, time.Since(seed))

	mgr := a.Manager("fanoutbench")
	if err := mgr.Start(ctx); err != nil {
		panic(err)
	}
	defer mgr.Stop()

	publisher := service.NewPublisher(a.Repos.Posts, a.Repos.Projects, a.Timeline)
	pubDurations := make([]time.Duration, 0, POSTS)
	t0 := time.Now()
	for i := 0; i < POSTS; i++ {
		st := time.Now()
		if _, _, err := publisher.Publish(ctx, authorRef, nil, fmt.Sprintf("hello %d", i)); err != nil {
			panic(err)
		}
		pubDurations = append(pubDurations, time.Since(st))
	}

	// 每个 dispatch 任务处理完会上报一次耗时
	land := make([]time.Duration, 0, POSTS)
	timeout := time.After(5 * time.Minute)
collect:
	for len(land) < POSTS {
		select {
		case d := <-mgr.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for fanout: got=%d want=%d\n", len(land), POSTS)
			break collect
		}
	}
	landAll := time.Since(t0)

	var pubSum time.Duration
	for _, d := range pubDurations {
		pubSum += d
	}
	fmt.Printf("N=%d POSTS=%d WORKERS=%d PAGE=%d queue=%s\n", N, POSTS, cfg.Queue.Workers, cfg.Timeline.DispatchPageSize, cfg.Queue.Driver)
	fmt.Printf("Publish latency: avg=%v p95=%v p99=%v\n", pubSum/time.Duration(len(pubDurations)), pct(pubDurations, 0.95), pct(pubDurations, 0.99))
	if len(land) > 0 {
		var landSum time.Duration
		for _, d := range land {
			landSum += d
		}
		fmt.Printf("Fanout landing (enqueue->done): samples=%d avg=%v p95=%v p99=%v all=%v\n",
			len(land), landSum/time.Duration(len(land)), pct(land, 0.95), pct(land, 0.99), landAll)
	}

	fan0 := registry.Ref{Kind: model.KindUser, ID: fans[0].ID}
	st := time.Now()
	p := must(timeline.For(a.Timeline, fan0).Private(ctx, timeline.Filter{}, true))
	rows := must(p.Slice(ctx, 0, 50))
	fmt.Printf("Timeline read (fan0, limit=50): %v, rows=%d, total=%d\n", time.Since(st), len(rows), p.Count())
	unread := must(a.Timeline.UnreadCount(ctx, fan0, timeline.Filter{}))
	fmt.Printf("Unread (fan0): %d\n", unread)
}
