package requestidlint_test

import (
	"testing"

	"github.com/regulens/ingestion-engine/tools/requestidlint"
	"golang.org/x/tools/go/analysis/analysistest"
)

func TestAnalyzer(t *testing.T) {
	analysistest.Run(t, analysistest.TestData(), requestidlint.Analyzer, "internal/adminapi/good", "internal/adminapi/bad")
}
