package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/diogo/kiki/internal/api"
)

func newUploadCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload an image to the relay and print its URL",
		Long:  fmt.Sprintf("Upload an image (%s) and print the URL the relay returns.", supportedTypes()),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := newSession(cfg, deps)
			if err != nil {
				return err
			}
			defer s.Close()

			raw, err := s.client.UploadFile(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			if asJSON {
				fmt.Fprintln(deps.Stdout, string(raw))
				return nil
			}
			url, err := s.norm.UploadURL(raw)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			fmt.Fprintln(deps.Stdout, url)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw relay response")
	return cmd
}

func supportedTypes() string {
	var out string
	for i, t := range api.SupportedImageTypes() {
		if i > 0 {
			out += ", "
		}
		out += t
	}
	return out
}
