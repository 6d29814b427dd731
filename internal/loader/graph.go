package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrSkipped marks a task that did not run because a dependency failed.
var ErrSkipped = errors.New("skipped: dependency failed")

type Task struct {
	Name string
	Deps []string
	Run  func(ctx context.Context) error
}

// Report holds the outcome of every task; nil means success.
type Report map[string]error

// Failed lists tasks that failed or were skipped, sorted.
func (r Report) Failed() []string {
	var out []string
	for n, err := range r {
		if err != nil {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

func (r Report) Err() error {
	var errs []error
	for _, n := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", n, r[n]))
	}
	return errors.Join(errs...)
}

// Graph runs tasks concurrently, each as soon as all of its deps have
// succeeded. A failing task skips its dependents and nothing else.
type Graph struct {
	tasks []Task
	index map[string]int
}

func NewGraph() *Graph { return &Graph{index: make(map[string]int)} }

func (g *Graph) Add(t Task) {
	g.index[t.Name] = len(g.tasks)
	g.tasks = append(g.tasks, t)
}

func (g *Graph) Names() []string {
	out := make([]string, len(g.tasks))
	for i, t := range g.tasks {
		out[i] = t.Name
	}
	return out
}

// Validate rejects duplicate names, unknown deps and cycles.
func (g *Graph) Validate() error {
	if len(g.index) != len(g.tasks) {
		return errors.New("duplicate task name")
	}
	for _, t := range g.tasks {
		for _, d := range t.Deps {
			if _, ok := g.index[d]; !ok {
				return fmt.Errorf("task %s: unknown dependency %s", t.Name, d)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make([]int, len(g.tasks))
	var path []string
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visiting:
			return fmt.Errorf("dependency cycle: %s -> %s", strings.Join(path, " -> "), g.tasks[i].Name)
		case done:
			return nil
		}
		state[i] = visiting
		path = append(path, g.tasks[i].Name)
		for _, d := range g.tasks[i].Deps {
			if err := visit(g.index[d]); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[i] = done
		return nil
	}
	for i := range g.tasks {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) Run(ctx context.Context) (Report, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	done := make([]chan struct{}, len(g.tasks))
	for i := range done {
		done[i] = make(chan struct{})
	}
	var (
		mu  sync.Mutex
		rep = make(Report, len(g.tasks))
		wg  sync.WaitGroup
	)
	result := func(name string) error {
		mu.Lock()
		defer mu.Unlock()
		return rep[name]
	}

	for i, t := range g.tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			defer close(done[i])

			var err error
			for _, d := range t.Deps {
				<-done[g.index[d]]
				if result(d) != nil {
					err = ErrSkipped
				}
			}
			if err == nil {
				if cerr := ctx.Err(); cerr != nil {
					err = cerr
				} else {
					err = t.Run(ctx)
				}
			}
			mu.Lock()
			rep[t.Name] = err
			mu.Unlock()
		}(i, t)
	}
	wg.Wait()
	return rep, nil
}
