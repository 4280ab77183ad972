// Package overlay validates and normalizes device-tree overlay
// specifications before composition: after normalization every overlay
// carries a compiled blob path, whatever form it was declared in.
package overlay

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/devicetree-tools/dtbuild/internal/config"
	"github.com/devicetree-tools/dtbuild/internal/dtc"
)

// InvalidSpecError reports every overlay that has no way to materialize a
// blob, in one batch. Validation never fails on the first offender.
type InvalidSpecError struct {
	Names []string
}

func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid overlay specification: overlays [%s] declare none of dts_file, dts_text, dtbo_file", strings.Join(e.Names, ", "))
}

// Validate checks that every overlay has at least one materialization path.
// It runs at configuration-evaluation time, before any compilation is
// scheduled, so broken configurations fail cheaply.
func Validate(overlays []config.Overlay) error {
	var invalid []string
	for i := range overlays {
		if !overlays[i].Materializable() {
			invalid = append(invalid, overlays[i].Name)
		}
	}

	if len(invalid) > 0 {
		return &InvalidSpecError{Names: invalid}
	}
	return nil
}

// Normalize returns the overlays with DtboFile guaranteed non-empty,
// preserving input order. Overlays with a pre-compiled blob pass through
// untouched; the rest are compiled with name "<name>-dtbo", file preferred
// over inline text. DTS fields are retained on compiled overlays for
// traceability.
func Normalize(ctx context.Context, compiler dtc.Compiler, kernelDir string, overlays []config.Overlay) ([]config.Overlay, error) {
	if err := Validate(overlays); err != nil {
		return nil, err
	}

	normalized := slices.Clone(overlays)
	for i := range normalized {
		if normalized[i].Precompiled() {
			continue
		}

		dtbo, err := compiler.Compile(ctx, dtc.CompileRequest{
			Name:      normalized[i].Name + "-dtbo",
			KernelDir: kernelDir,
			DtsFile:   normalized[i].DtsFile,
			DtsText:   normalized[i].DtsText,
			Flags:     normalized[i].BuildFlags,
		})
		if err != nil {
			return nil, err
		}
		normalized[i].DtboFile = dtbo
	}

	return normalized, nil
}
