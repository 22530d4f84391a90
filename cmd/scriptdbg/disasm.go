package main

import (
	"github.com/spf13/cobra"

	"github.com/dshills/scriptdbg/internal/script/asm"
	"github.com/dshills/scriptdbg/internal/script/bytecode"
)

func newDisasmCommand(root *rootOptions) *cobra.Command {
	var compileLazy bool
	cmd := &cobra.Command{
		Use:   "disasm file.sasm...",
		Short: "Print the bytecode listing of scripts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			log := newLogger(cfg, cmd.ErrOrStderr())

			prog := bytecode.NewProgram()
			for _, path := range args {
				mod, err := asm.AssembleFile(path)
				if err != nil {
					return &exitCodeError{code: exitError, err: err}
				}
				if err := prog.Load(mod); err != nil {
					return &exitCodeError{code: exitError, err: err}
				}
				if compileLazy {
					for _, fn := range mod.Funcs {
						if !fn.Lazy {
							continue
						}
						if err := prog.Compile(fn.ID); err != nil {
							log.Warn("compile %s: %v", fn.Name, err)
						}
					}
				}
				if err := asm.Disassemble(cmd.OutOrStdout(), mod, nil); err != nil {
					return &exitCodeError{code: exitError, err: err}
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&compileLazy, "compile", false, "compile lazy functions before listing them")
	return cmd
}
