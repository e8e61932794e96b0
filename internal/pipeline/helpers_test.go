package pipeline_test

import (
	"github.com/MrWong99/stepforge/internal/stepgen"
	"github.com/MrWong99/stepforge/pkg/provider/llm"
)

func stepgenFor(p llm.Provider) *stepgen.Generator {
	return stepgen.New(p)
}
