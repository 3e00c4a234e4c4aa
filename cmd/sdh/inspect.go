package main

import (
	"flag"
	"fmt"
	"slices"
	"strings"

	"github.com/SleepSupreme/sdh/stego"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/checkpoints"
	"github.com/gomlx/gomlx/pkg/ml/train/optimizers"
	"github.com/janpfeifer/must"
	"golang.org/x/exp/maps"
)

var flagVars = flag.Bool("vars", false, "List the individual model variables in the params command.")

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func printEvaluation(cfg *stego.Config, result *stego.EvalResult) {
	fmt.Println(titleStyle.Render("Evaluation"))
	table := newPlainTable(true)
	table.Row("Metric", "Hiding (container / cover)", "Reveal (revealed / secret)")
	table.Row("MSE", fmt.Sprintf("%.6f", result.HidingMSE), fmt.Sprintf("%.6f", result.RevealMSE))
	table.Row("APD", fmt.Sprintf("%.3f", result.HidingAPD), fmt.Sprintf("%.3f", result.RevealAPD))
	table.Row("PSNR (dB)", fmt.Sprintf("%.2f", result.HidingPSNR), fmt.Sprintf("%.2f", result.RevealPSNR))
	table.Row("SSIM", fmt.Sprintf("%.4f", result.HidingSSIM), fmt.Sprintf("%.4f", result.RevealSSIM))
	fmt.Println(table.Render())
	combined := result.HidingMSE + cfg.Beta*result.RevealMSE
	fmt.Printf("%s image pairs, combined loss %.6f (hiding MSE + %.3g * reveal MSE)\n",
		humanize.Comma(int64(result.Pairs)), combined, cfg.Beta)
}

// showParams loads a checkpoint without running anything and reports the
// model stored in it.
func showParams(dir string) {
	ctx := context.New()
	_ = must.M1(checkpoints.Build(ctx).Dir(dir).Immediate().Done())
	scopedCtx := ctx.InAbsPath("/model")

	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("checkpoint", dir)
	table.Row("global_step", humanize.Comma(int64(optimizers.GetGlobalStep(ctx))))
	var numVars, totalSize int
	var totalMemory uintptr
	scopedCtx.EnumerateVariablesInScope(func(v *context.Variable) {
		numVars++
		totalSize += v.Shape().Size()
		totalMemory += v.Shape().Memory()
	})
	table.Row("# variables", humanize.Comma(int64(numVars)))
	table.Row("# parameters", humanize.Comma(int64(totalSize)))
	table.Row("# bytes", humanize.Bytes(uint64(totalMemory)))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Hyperparameters"))
	paramsTable := newPlainTable(true)
	paramsTable.Row("Scope", "Name", "Type", "Value")
	type scopeKey struct{ Scope, Key string }
	params := make(map[scopeKey]any)
	ctx.EnumerateParams(func(scope, key string, value any) {
		params[scopeKey{Scope: scope, Key: key}] = value
	})
	scopeKeys := maps.Keys(params)
	slices.SortFunc(scopeKeys, func(a, b scopeKey) int {
		if cmp := strings.Compare(a.Scope, b.Scope); cmp != 0 {
			return cmp
		}
		return strings.Compare(a.Key, b.Key)
	})
	for _, pair := range scopeKeys {
		value := params[pair]
		paramsTable.Row(pair.Scope, pair.Key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
	}
	fmt.Println(paramsTable.Render())

	if *flagVars {
		fmt.Println(titleStyle.Render("Variables"))
		varsTable := newPlainTable(true)
		varsTable.Row("Scope", "Name", "Shape", "Size", "Bytes")
		var rows [][]string
		scopedCtx.EnumerateVariablesInScope(func(v *context.Variable) {
			shape := v.Shape()
			rows = append(rows, []string{
				v.Scope(), v.Name(), shape.String(),
				humanize.Comma(int64(shape.Size())),
				humanize.Bytes(uint64(shape.Memory())),
			})
		})
		slices.SortFunc(rows, func(a, b []string) int {
			if cmp := strings.Compare(a[0], b[0]); cmp != 0 {
				return cmp
			}
			return strings.Compare(a[1], b[1])
		})
		for _, row := range rows {
			varsTable.Row(row...)
		}
		fmt.Println(varsTable.Render())
	}
}
