package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime/pprof"
	"time"

	"github.com/delaneyj/changestream/compute"
	"github.com/delaneyj/changestream/hierarchy"
	"github.com/delaneyj/changestream/listeners"
	"github.com/delaneyj/changestream/preview"
	"github.com/delaneyj/changestream/scene"
	"github.com/delaneyj/changestream/watcher"
	"github.com/jamiealquiza/tachymeter"
	"github.com/jedib0t/go-pretty/v6/table"
)

var cpuProfile = flag.String("cpuprofile", "", "write a CPU profile to this file")

func main() {
	flag.Parse()

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	log.Printf("warming up")
	benchmarkFanOut(false)

	benchmarkFanOut(true)
	benchmarkChains(true)
	benchmarkResolve(true)
}

var (
	ww    = []int{1, 10, 100, 1_000}
	hh    = []int{1, 10, 100, 1_000}
	iters = 100
)

func newTable(title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetTitle(title)
	tbl.SetOutputMirror(os.Stdout)
	tbl.AppendHeader(table.Row{"benchmark", "avg", "min", "p75", "p99", "max"})
	return tbl
}

func appendCalc(tbl table.Writer, name string, tach *tachymeter.Tachymeter) {
	calc := tach.Calc()
	tbl.AppendRow(table.Row{
		name,
		calc.Time.Avg,
		calc.Time.Min,
		calc.Time.P75,
		calc.Time.P99,
		calc.Time.Max,
	})
}

// benchmarkFanOut fires one event at w live listeners, a fraction of which
// match it.
func benchmarkFanOut(shouldRender bool) {
	tbl := newTable("Listener fan-out")

	for _, w := range []int{1, 10, 100, 1_000, 10_000} {
		for _, matchEvery := range []int{1, 10} {
			tach := tachymeter.New(&tachymeter.Config{Size: iters})
			set := listeners.New[hierarchy.Event]()

			for i := 0; i < iters; i++ {
				ctxs := make([]*compute.Context, w)
				for j := range ctxs {
					ctxs[j] = compute.New("listener")
					ev := hierarchy.ObjectDirty
					if j%matchEvery != 0 {
						ev = hierarchy.PathChange
					}
					set.Register(func(got hierarchy.Event) bool { return got == ev }, ctxs[j])
				}

				start := time.Now()
				set.Fire(hierarchy.ObjectDirty)
				tach.AddTime(time.Since(start))

				// Drop whatever did not match before the next round.
				set.ForceFireAll()
			}

			appendCalc(tbl, fmt.Sprintf("fire: %d listeners, 1/%d match", w, matchEvery), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}

// benchmarkChains invalidates w chains of h dependent contexts from one root.
func benchmarkChains(shouldRender bool) {
	tbl := newTable("Invalidation chains")

	for _, w := range ww {
		for _, h := range hh {
			if w*h > 100_000 {
				continue
			}
			tach := tachymeter.New(&tachymeter.Config{Size: iters})

			for i := 0; i < iters; i++ {
				root := compute.New("root")
				keep := make([]*compute.Context, 0, w*h)
				for j := 0; j < w; j++ {
					last := root
					for k := 0; k < h; k++ {
						next := compute.New("dependent")
						last.Invalidates(next)
						keep = append(keep, next)
						last = next
					}
				}

				start := time.Now()
				root.Invalidate()
				tach.AddTime(time.Since(start))

				for _, c := range keep {
					if !c.IsInvalidated() {
						log.Panicf("%s survived invalidation", c)
					}
				}
			}

			appendCalc(tbl, fmt.Sprintf("invalidate: %d * %d", w, h), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}

// benchmarkResolve toggles one renderer under a root with n renderers and
// measures the flush plus the resolve that follows.
func benchmarkResolve(shouldRender bool) {
	tbl := newTable("Resolve active stages")

	for _, n := range []int{10, 100, 1_000} {
		for _, strict := range []bool{false, true} {
			g := scene.NewGraph()
			scn := g.AddScene("Bench")
			root, err := g.CreateObject(scn, 0, "Root")
			if err != nil {
				log.Fatal(err)
			}
			renderers := make([]scene.ObjectID, n)
			for i := range renderers {
				obj, err := g.CreateObject(scn, root, fmt.Sprintf("Child%d", i))
				if err != nil {
					log.Fatal(err)
				}
				if renderers[i], err = g.AddComponent(obj, scene.TypeRenderer, map[string]any{scene.PropEnabled: true}); err != nil {
					log.Fatal(err)
				}
			}

			w := watcher.New(g)
			g.OnChange(w.Enqueue)

			var opts []preview.FilterOption
			if strict {
				opts = append(opts, preview.Strict())
			}
			filters := []preview.RenderFilter{preview.NewComponentFilter(w, g, "bench", root, opts...)}
			ts := preview.NewTargetSet(w, filters)
			ts.ResolveActiveStages(compute.New("warm up"))

			tach := tachymeter.New(&tachymeter.Config{Size: iters})
			for i := 0; i < iters; i++ {
				if err := g.SetProperty(renderers[i%n], scene.PropEnabled, i%2 == 1); err != nil {
					log.Fatal(err)
				}

				start := time.Now()
				w.Flush()
				ts = ts.Refresh(filters)
				ts.ResolveActiveStages(compute.New("resolve"))
				tach.AddTime(time.Since(start))
			}
			w.Close()

			appendCalc(tbl, fmt.Sprintf("resolve: %d renderers, strict=%v", n, strict), tach)
		}
	}

	if shouldRender {
		tbl.Render()
	}
}
