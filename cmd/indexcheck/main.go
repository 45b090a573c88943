package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/app"
	"github.com/d60-Lab/followgraph/pkg/logger"
)

// indexcheck 扫描一遍索引，报告计数与集合不一致、uid 映射分叉；只报告不修复
func main() { os.Exit(run()) }

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	_ = logger.Init(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	a, cleanup, err := app.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer cleanup()

	st := time.Now()
	rep, err := a.Verifier().Run(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	fmt.Printf("scanned=%d issues=%d took=%v\n", rep.Scanned, len(rep.Issues), time.Since(st))
	for _, is := range rep.Issues {
		fmt.Printf("%-16s uid=%-8d ref=%-20s key=%s counter=%d members=%d %s\n",
			is.Type, is.UID, is.Ref, is.Key, is.Counter, is.Members, is.Detail)
	}
	if !rep.OK() {
		return 1
	}
	return 0
}
