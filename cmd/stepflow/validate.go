package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/stepflow/workflow/dsl"
)

// =============================================================================
// ✅ validate 命令
// =============================================================================

// runValidate 校验工作流文件结构，并输出引用检查警告。
// custom 步骤的 handler 在运行时才解析，这里不检查。
func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: stepflow validate <workflow.yaml>...")
	}

	for _, file := range fs.Args() {
		doc, err := dsl.LoadFile(file)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		for _, w := range dsl.Lint(doc) {
			fmt.Fprintf(out, "%s: warning: %s\n", file, w)
		}
		fmt.Fprintf(out, "%s: OK (%s, %d steps)\n", file, doc.Name, len(doc.Steps))
	}
	return nil
}
