package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cestlavie/harvestqa/internal/dataset"
	"github.com/cestlavie/harvestqa/internal/qaerr"
)

// Mode selects how Provide obtains an index.
type Mode string

const (
	// ModeAuto reuses persisted artifacts when model and content hash match
	// and rebuilds otherwise.
	ModeAuto Mode = "auto"
	// ModeLoad requires usable persisted artifacts for the configured model.
	ModeLoad Mode = "load"
	// ModeBuild always rebuilds and persists.
	ModeBuild Mode = "build"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeAuto, ModeLoad, ModeBuild:
		return m, nil
	case "":
		return ModeAuto, nil
	default:
		return "", &qaerr.ConfigError{Key: "retrieval.index_mode", Msg: fmt.Sprintf("unknown mode %q", s)}
	}
}

// ProvideResult says where the returned index came from.
type ProvideResult struct {
	Rebuilt bool
	Reason  string
}

// Provide returns an index over docs for emb's model, treating dir as a
// cache keyed by (document hash, model id).
func Provide(ctx context.Context, dir string, emb *Embedder, docs []string, mode Mode, onProgress func(int)) (*Index, ProvideResult, error) {
	var reason string

	switch mode {
	case ModeBuild:
		reason = "rebuild requested"
	case ModeLoad, ModeAuto, "":
		ix, found, err := Load(dir)
		if err != nil {
			if mode == ModeLoad {
				return nil, ProvideResult{}, err
			}
			zap.L().Warn("persisted index unusable, rebuilding", zap.String("dir", dir), zap.Error(err))
			reason = "persisted index unusable"
			break
		}
		switch {
		case !found:
			reason = "no persisted index"
		case ix.Model() != emb.Model():
			reason = fmt.Sprintf("model changed from %q to %q", ix.Model(), emb.Model())
		case mode != ModeLoad && ix.Hash() != dataset.HashDocuments(docs):
			reason = "documents changed"
		default:
			return ix, ProvideResult{Reason: "loaded"}, nil
		}
		if mode == ModeLoad {
			return nil, ProvideResult{}, &qaerr.IndexLoadError{Path: dir, Msg: reason}
		}
	default:
		return nil, ProvideResult{}, &qaerr.ConfigError{Key: "retrieval.index_mode", Msg: fmt.Sprintf("unknown mode %q", mode)}
	}

	zap.L().Info("building index", zap.String("reason", reason), zap.Int("documents", len(docs)), zap.String("model", emb.Model()))
	ix, err := Build(ctx, emb, docs, onProgress)
	if err != nil {
		return nil, ProvideResult{}, err
	}
	if err := Save(dir, ix); err != nil {
		return nil, ProvideResult{}, err
	}
	return ix, ProvideResult{Rebuilt: true, Reason: reason}, nil
}
