package utility

import (
	"fmt"
	"io"
	"text/tabwriter"

	"go-protonet/nn"
	"go-protonet/tensor"
)

// ModelInspector reports the layers and parameter counts of a sequential embedding.
type ModelInspector struct {
	model *nn.Sequential
}

func NewModelInspector(model *nn.Sequential) *ModelInspector {
	return &ModelInspector{model: model}
}

func paramName(i int) string {
	switch i {
	case 0:
		return "Weight"
	case 1:
		return "Bias"
	default:
		return fmt.Sprintf("Param %d", i)
	}
}

// Summary writes a per-layer table followed by the parameter totals.
func (mi *ModelInspector) Summary(out io.Writer) error {
	fmt.Fprintln(out, "--- Embedding Summary ---")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Layer (Type)\tParameters\tShape\tParam #")
	fmt.Fprintln(w, "--------------\t----------\t-----\t-------")

	for _, layer := range mi.model.Layers() {
		params := layer.Parameters()
		if len(params) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t0\n", layer.Name())
			continue
		}
		for i, p := range params {
			display := layer.Name()
			if i > 0 {
				display = ""
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%d\n", display, paramName(i), p.GetShape(), tensor.Numel(p))
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	total, trainable := mi.CountParameters()
	_, err := fmt.Fprintf(out, "Total Parameters: %d\nTrainable Parameters: %d\n", total, trainable)
	return err
}

// CountParameters sums parameter elements over all layers.
func (mi *ModelInspector) CountParameters() (total int64, trainable int64) {
	for _, p := range mi.model.Parameters() {
		numel := int64(tensor.Numel(p))
		total += numel
		if p.RequiresGrad {
			trainable += numel
		}
	}
	return total, trainable
}
