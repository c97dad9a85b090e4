//go:build amd64
// +build amd64

package emitter

import "github.com/twitchyliquid64/golang-asm/obj"

// Label is an unresolved code address, later bound to a concrete instruction by Context.Bind. Branches emitted
// before a label is bound are patched once its binding callback fires.
type Label struct {
	name string
}

type labelState struct {
	prog    *obj.Prog // nil until bound
	pending []func(target *obj.Prog)
}
