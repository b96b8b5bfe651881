package unitgraph

import (
	"context"
	"sync"

	"github.com/vk/kbuildgo/internal/configstore"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
)

// Builder keeps the last constructed graph so that configuration changes
// which cannot alter the graph shape skip reconstruction.
type Builder struct {
	index *model.Index

	mu   sync.Mutex
	last *Graph
}

// NewBuilder returns a builder over a declaration index.
func NewBuilder(index *model.Index) *Builder {
	return &Builder{index: index}
}

// Update returns the graph for state and tc. The graph is reconstructed
// when the target context changed or a symbol referenced by any activation
// predicate changed; otherwise the previous shape is reused with the new
// state. The boolean reports whether a reconstruction happened.
func (b *Builder) Update(ctx context.Context, state *kconfig.State, tc target.Context) (*Graph, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	logger := ctxlog.FromContext(ctx)

	if b.last != nil && b.last.context.Equal(tc) {
		changed := configstore.Diff(b.last.state, state)
		if !touchesActivation(changed, b.last.activation) {
			logger.Debug("Reusing unit graph shape.", "changed_symbols", len(changed))
			b.last = b.last.withState(state)
			return b.last, false, nil
		}
		logger.Debug("Activation-relevant symbols changed; reconstructing unit graph.", "changed_symbols", len(changed))
	}

	g, err := Construct(ctx, b.index, state, tc)
	if err != nil {
		return nil, false, err
	}
	b.last = g
	return g, true, nil
}

func touchesActivation(changed []string, activation map[string]bool) bool {
	for _, n := range changed {
		if activation[n] {
			return true
		}
	}
	return false
}
