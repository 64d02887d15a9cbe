package harness

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/roach88/retrace/internal/capture"
	"github.com/roach88/retrace/internal/replay"
)

// IntStack is the mutable container the demo pushes into. It is held
// behind a pointer so repeated captures observe the same identity and
// grow one version chain instead of minting unrelated objects.
type IntStack struct {
	Values []int
}

// Demo is the built-in instrumented program. It exists so every other
// part of the system has something real to record, query and replay:
// a pure function, a global-reading one, a nondeterministic one with a
// mockable seam, nested calls, and a mutating one with object identity.
type Demo struct {
	repo *capture.Repository
	mon  *capture.Monitor
	reg  *replay.Registry

	greeting string
	stack    *IntStack
	roll     func(sides int) int
	rng      *rand.Rand
}

// NewDemo registers the demo functions with a monitor over repo and
// binds their replay targets, globals and mock seams in a registry.
func NewDemo(ctx context.Context, repo *capture.Repository, log *slog.Logger) (*Demo, error) {
	d := &Demo{
		repo:     repo,
		mon:      capture.NewMonitor(repo, log),
		reg:      replay.NewRegistry(),
		greeting: "Hello",
		stack:    &IntStack{},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	d.roll = func(sides int) int { return d.rng.Intn(sides) + 1 }

	targets := []struct {
		fn   any
		opts []capture.TargetOption
	}{
		{d.Add, []capture.TargetOption{capture.WithName("demo.Add")}},
		{d.Greet, []capture.TargetOption{
			capture.WithName("demo.Greet"),
			capture.WithGlobal("greeting", func() any { return d.greeting }),
		}},
		{d.RollDice, []capture.TargetOption{capture.WithName("demo.RollDice")}},
		{d.PlayRound, []capture.TargetOption{capture.WithName("demo.PlayRound")}},
		{d.Push, []capture.TargetOption{capture.WithName("demo.Push")}},
	}
	for _, t := range targets {
		if _, err := d.mon.Register(ctx, t.fn, t.opts...); err != nil {
			return nil, fmt.Errorf("demo: %w", err)
		}
	}

	if err := d.bindReplay(); err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}
	return d, nil
}

// bindReplay registers the replay-side targets. The closures carry the
// bare logic without instrumentation; nested work goes through the
// mockable seam so installed stubs intercept it.
func (d *Demo) bindReplay() error {
	if err := d.reg.RegisterFunc("demo.Add", func(a, b int) int { return a + b }, "a", "b"); err != nil {
		return err
	}
	if err := d.reg.RegisterFunc("demo.Greet", func(name string) string {
		return d.greeting + ", " + name
	}, "name"); err != nil {
		return err
	}
	if err := d.reg.RegisterFunc("demo.RollDice", func(sides int) int {
		return d.roll(sides)
	}, "sides"); err != nil {
		return err
	}
	if err := d.reg.RegisterFunc("demo.PlayRound", func(rolls, sides int) int {
		total := 0
		for i := 0; i < rolls; i++ {
			total += d.roll(sides)
		}
		return total
	}, "rolls", "sides"); err != nil {
		return err
	}
	if err := d.reg.RegisterFunc("demo.Push", func(v int) int {
		d.stack.Values = append(d.stack.Values, v)
		return len(d.stack.Values)
	}, "v"); err != nil {
		return err
	}
	if err := d.reg.BindGlobal("greeting",
		func() any { return d.greeting },
		func(v any) {
			if s, ok := v.(string); ok {
				d.greeting = s
			}
		},
	); err != nil {
		return err
	}
	return d.reg.BindMockable("demo.RollDice", &d.roll)
}

// Registry returns the replay bindings for the demo functions.
func (d *Demo) Registry() *replay.Registry { return d.reg }

// SetGreeting changes the global the Greet function reads.
func (d *Demo) SetGreeting(s string) { d.greeting = s }

// FixRolls replaces the dice with a deterministic cycle over the given
// values. Used by scenarios so traces are reproducible.
func (d *Demo) FixRolls(values ...int) {
	if len(values) == 0 {
		return
	}
	i := 0
	d.roll = func(sides int) int {
		v := values[i%len(values)]
		i++
		if v > sides {
			v = sides
		}
		return v
	}
}

// Add is the pure demo function.
func (d *Demo) Add(a, b int) int {
	id := d.mon.OnCall("demo.Add", map[string]any{"a": a, "b": b})
	sum := a + b
	d.mon.OnReturn(id, sum)
	return sum
}

// Greet reads the greeting global, which the monitor snapshots on entry.
func (d *Demo) Greet(name string) string {
	id := d.mon.OnCall("demo.Greet", map[string]any{"name": name})
	out := d.greeting + ", " + name
	d.mon.OnReturn(id, out)
	return out
}

// RollDice is the nondeterministic demo function. The dice live behind
// a function variable so replay can install a recorded stub.
func (d *Demo) RollDice(sides int) int {
	id := d.mon.OnCall("demo.RollDice", map[string]any{"sides": sides})
	v := d.roll(sides)
	d.mon.OnReturn(id, v)
	return v
}

// PlayRound rolls the dice several times through the instrumented
// RollDice, so each roll is recorded as a nested call.
func (d *Demo) PlayRound(rolls, sides int) int {
	id := d.mon.OnCall("demo.PlayRound", map[string]any{"rolls": rolls, "sides": sides})
	total := 0
	for i := 0; i < rolls; i++ {
		total += d.RollDice(sides)
	}
	d.mon.OnReturn(id, total)
	return total
}

// Push appends to the shared stack and returns its new length. The
// stack pointer appears in the captured locals, so successive calls
// extend one version chain.
func (d *Demo) Push(v int) int {
	id := d.mon.OnCall("demo.Push", map[string]any{"v": v, "stack": d.stack})
	d.stack.Values = append(d.stack.Values, v)
	length := len(d.stack.Values)
	d.mon.OnReturn(id, length)
	return length
}

// Call dispatches a demo function by its recorded name with loosely
// typed arguments, as parsed from YAML scenarios or CLI input.
func (d *Demo) Call(name string, args map[string]any) (any, error) {
	switch name {
	case "demo.Add":
		a, err := argInt(args, "a")
		if err != nil {
			return nil, err
		}
		b, err := argInt(args, "b")
		if err != nil {
			return nil, err
		}
		return d.Add(a, b), nil
	case "demo.Greet":
		n, err := argString(args, "name")
		if err != nil {
			return nil, err
		}
		return d.Greet(n), nil
	case "demo.RollDice":
		sides, err := argInt(args, "sides")
		if err != nil {
			return nil, err
		}
		return d.RollDice(sides), nil
	case "demo.PlayRound":
		rolls, err := argInt(args, "rolls")
		if err != nil {
			return nil, err
		}
		sides, err := argInt(args, "sides")
		if err != nil {
			return nil, err
		}
		return d.PlayRound(rolls, sides), nil
	case "demo.Push":
		v, err := argInt(args, "v")
		if err != nil {
			return nil, err
		}
		return d.Push(v), nil
	default:
		return nil, fmt.Errorf("unknown demo function %q (known: %s)", name, strings.Join(DemoFunctions(), ", "))
	}
}

// RunSession records one scripted session exercising every demo
// function and returns its id. This is what `retrace demo` runs so a
// fresh database has data for the other commands to act on.
func (d *Demo) RunSession(ctx context.Context, name string) (string, error) {
	id, err := d.repo.StartSession(ctx, capture.SessionInput{
		Name:        name,
		Description: "built-in demo recording",
	})
	if err != nil {
		return "", err
	}

	d.Add(1, 2)
	d.Add(40, 2)
	d.Greet("Ada")
	d.PlayRound(2, 6)
	d.Push(1)
	d.Push(2)
	d.Push(3)

	if _, err := d.repo.EndSession(ctx); err != nil {
		return "", err
	}
	return id, nil
}

// DemoFunctions lists the recorded names of the demo functions.
func DemoFunctions() []string {
	return []string{"demo.Add", "demo.Greet", "demo.RollDice", "demo.PlayRound", "demo.Push"}
}

func argInt(args map[string]any, name string) (int, error) {
	v, ok := args[name]
	if !ok {
		return 0, fmt.Errorf("missing argument %q", name)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("argument %q: %v is not an integer", name, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("argument %q: expected integer, got %T", name, v)
	}
}

func argString(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q: expected string, got %T", name, v)
	}
	return s, nil
}
