package ir

import (
	"errors"
	"go/token"
	"testing"
)

// counted builds
//
//	entry → pre → head ⇄ latch
//	              head → exit
func counted(t *testing.T, mutate func(b *Builder, blocks map[string]*Block)) *Function {
	t.Helper()

	m := &Module{}
	b := NewFunction(m, "counted")
	entry := b.Block("entry")
	pre := b.Block("pre")
	head := b.Block("head")
	latch := b.Block("latch")
	exit := b.Block("exit")

	b.At(entry).Jump(pre)
	b.At(pre).Jump(head)
	b.At(head)
	i := b.Phi("i", Int(64, 0), pre, nil, latch)
	cond := b.Compare("cond", token.LSS, i, Int(64, 10))
	b.Branch(cond, latch, exit)
	b.At(latch)
	next := b.Binary("next", token.ADD, i, Int(64, 1))
	i.Operands[1] = next
	b.Jump(head)
	b.At(exit)
	last := b.Phi("last", i, head)
	b.Return(last)

	b.Loop(nil, head, latch)
	if mutate != nil {
		mutate(b, map[string]*Block{"entry": entry, "pre": pre, "head": head, "latch": latch, "exit": exit})
	}

	return b.Finish()
}

func TestSeal(t *testing.T) {
	f := counted(t, nil)

	head := f.Blocks[2]
	if len(head.Preds) != 2 || head.Preds[0].Name != "pre" || head.Preds[1].Name != "latch" {
		t.Errorf("unexpected predecessors of head: %v", head.Preds)
	}
	if len(head.Succs) != 2 || head.Succs[0].Name != "latch" || head.Succs[1].Name != "exit" {
		t.Errorf("unexpected successors of head: %v", head.Succs)
	}

	phi := head.Instrs[0]
	var users []string
	for _, u := range phi.Users {
		users = append(users, u.String())
	}
	if len(users) != 3 {
		t.Errorf("phi users %v, want cond, next and last", users)
	}

	if idx := head.Instrs[1].Index(); idx != 1 {
		t.Errorf("compare index %d, want 1", idx)
	}
}

func TestSeal_NoTerminatorPanics(t *testing.T) {
	b := NewFunction(&Module{}, "broken")
	b.Block("entry")

	defer func() {
		if recover() == nil {
			t.Error("block without terminator must panic")
		}
	}()
	b.Finish()
}

func TestCheckLoopForm(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b *Builder, blocks map[string]*Block)
		ok     bool
	}{
		{
			name: "simplified",
			ok:   true,
		},
		{
			name: "no preheader",
			mutate: func(b *Builder, blocks map[string]*Block) {
				// Entry branches both into the preheader and the header.
				entry := blocks["entry"]
				entry.Instrs = nil
				b.At(entry).Branch(Int(1, 1), blocks["pre"], blocks["head"])
			},
		},
		{
			name: "side entry",
			mutate: func(b *Builder, blocks map[string]*Block) {
				entry := blocks["entry"]
				entry.Instrs = nil
				b.At(entry).Branch(Int(1, 1), blocks["pre"], blocks["latch"])
			},
		},
		{
			name: "use outside without exit phi",
			mutate: func(b *Builder, blocks map[string]*Block) {
				exit := blocks["exit"]
				phi := exit.Instrs[0]
				exit.Instrs = nil
				b.At(exit).Return(phi.Operands[0])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := counted(t, tt.mutate)
			err := CheckLoopForm(f)
			if tt.ok {
				if err != nil {
					t.Fatalf("unexpected error: %s", err)
				}
				return
			}

			if !errors.Is(err, ErrLoopForm) {
				t.Fatalf("loop form error expected, got %v", err)
			}
			t.Log(err)
		})
	}
}

func TestLoop_Queries(t *testing.T) {
	f := counted(t, nil)
	l := f.Loops[0]

	if p := l.Preheader(); p == nil || p.Name != "pre" {
		t.Errorf("unexpected preheader %v", p)
	}
	if latch := l.Latch(); latch == nil || latch.Name != "latch" {
		t.Errorf("unexpected latch %v", latch)
	}

	exits := l.ExitEdges()
	if len(exits) != 1 || exits[0].From.Name != "head" || exits[0].To.Name != "exit" {
		t.Errorf("unexpected exit edges %v", exits)
	}

	if got := f.LoopFor(f.Blocks[3]); got != l {
		t.Errorf("latch must belong to the loop")
	}
	if got := f.LoopFor(f.Blocks[4]); got != nil {
		t.Errorf("exit must not belong to a loop")
	}
}
