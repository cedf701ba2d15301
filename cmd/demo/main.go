package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	asyncssr "github.com/revskill10/react-async-ssr"
)

// Demo-specific data structures
type User struct {
	ID   int
	Name string
	Role string
}

type Activity struct {
	When string
	What string
}

func main() {
	userDelay := flag.Duration("user-delay", 400*time.Millisecond, "simulated user lookup latency")
	feedDelay := flag.Duration("feed-delay", 900*time.Millisecond, "simulated activity feed latency")
	failFeed := flag.Bool("fail-feed", false, "make the activity feed lookup fail")
	noSSRAds := flag.Bool("nossr-ads", true, "skip server rendering of the ads panel")
	stream := flag.Bool("stream", true, "stream output chunk by chunk instead of one string")
	flag.Parse()

	fmt.Println("🎯 Async Server Rendering Demo")
	fmt.Println("==============================")
	fmt.Println()

	userRes := asyncssr.NewResource(func() (any, error) {
		time.Sleep(*userDelay)
		return &User{ID: 7, Name: "Ada", Role: "admin"}, nil
	})
	feedRes := asyncssr.NewResource(func() (any, error) {
		time.Sleep(*feedDelay)
		if *failFeed {
			return nil, errors.New("feed service unavailable")
		}
		return []Activity{
			{When: "2m ago", What: "deployed renderer v2"},
			{When: "1h ago", What: "closed issue #42"},
		}, nil
	})
	adsPromise := asyncssr.NewPromise()
	if *noSSRAds {
		adsPromise.MarkNoSSR()
	} else {
		adsPromise.Resolve("50% off everything")
	}

	profile := asyncssr.Component(func(s *asyncssr.Scope, p asyncssr.Props) (any, error) {
		v, err := userRes.Read()
		if err != nil {
			return nil, err
		}
		u := v.(*User)
		return asyncssr.E("section", asyncssr.Props{"class": "profile"},
			asyncssr.E("h2", nil, u.Name),
			asyncssr.E("p", nil, fmt.Sprintf("role: %s", u.Role)),
		), nil
	})

	feed := asyncssr.Component(func(s *asyncssr.Scope, p asyncssr.Props) (any, error) {
		v, err := feedRes.Read()
		if err != nil {
			return nil, err
		}
		items := []any{}
		for _, a := range v.([]Activity) {
			items = append(items, asyncssr.E("li", nil, a.When+": "+a.What))
		}
		return asyncssr.E("ul", asyncssr.Props{"class": "feed"}, items), nil
	})

	ads := asyncssr.Component(func(s *asyncssr.Scope, p asyncssr.Props) (any, error) {
		return nil, asyncssr.Suspend(adsPromise)
	})

	page := asyncssr.E("div", asyncssr.Props{"class": "dashboard"},
		asyncssr.E("h1", nil, "Dashboard"),
		asyncssr.E(asyncssr.Suspense, asyncssr.Props{
			"fallback": asyncssr.E("p", nil, "loading profile…"),
		}, asyncssr.E(profile, nil)),
		asyncssr.E(asyncssr.Suspense, asyncssr.Props{
			"fallback": asyncssr.E("p", nil, "loading feed…"),
		}, asyncssr.E(feed, nil)),
		asyncssr.E(asyncssr.Suspense, asyncssr.Props{
			"fallback": asyncssr.E("aside", nil, "ads load in the browser"),
		}, asyncssr.E(ads, nil)),
	)

	renderer := asyncssr.New()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if *stream {
		fmt.Println("--- streamed output ---")
		if err := renderer.RenderTo(ctx, &chunkWriter{}, page); err != nil {
			log.Fatalf("render failed: %v", err)
		}
		fmt.Println()
	} else {
		html, err := renderer.RenderToString(ctx, page)
		if err != nil {
			log.Fatalf("render failed: %v", err)
		}
		fmt.Println("--- output ---")
		fmt.Println(html)
	}
	fmt.Println()
	fmt.Printf("⏱  rendered in %v\n", time.Since(start).Round(time.Millisecond))

	stats := renderer.Stats()
	fmt.Println()
	fmt.Println("📊 Renderer stats")
	fmt.Printf("   boundaries entered: %d\n", stats.BoundariesEntered)
	fmt.Printf("   suspensions:        %d\n", stats.Suspensions)
	fmt.Printf("   aborts (no-SSR):    %d\n", stats.Aborts)
	fmt.Printf("   resolution rounds:  %d\n", stats.ResolutionRounds)
	fmt.Printf("   pending resolved:   %d\n", stats.PendingResolved)
}

// chunkWriter prints each flushed chunk with a marker so the progressive
// shape of the output is visible on a terminal.
type chunkWriter struct {
	n int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	w.n++
	fmt.Printf("\n[chunk %d, %d bytes]\n%s", w.n, len(p), p)
	return len(p), nil
}
