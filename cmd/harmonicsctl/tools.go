package main

import (
	"archive/tar"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
	"lukechampine.com/blake3"

	"github.com/sbl8/harmonics/serialize"
	"github.com/sbl8/harmonics/tensor"
)

// newDatasetCacheCmd wires the dataset-cache collaborator surface:
// URL-based up/download against a plain HTTP peer, plus a local
// hash helper. The dataset codecs themselves stay external.
func newDatasetCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset-cache",
		Short: "Move dataset artifacts to and from a cache peer",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "hash <file>",
		Short: "Print the BLAKE3 digest of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sum := blake3.Sum256(data)
			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", sum)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "download <url> <out>",
		Short: "Fetch an artifact from a cache peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			resp, err := http.Get(args[0])
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("download: %s", resp.Status)
			}
			f, err := os.Create(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(f, resp.Body)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "upload <file> <url>",
		Short: "Send an artifact to a cache peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			resp, err := http.Post(args[1], "application/octet-stream", f)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
				return fmt.Errorf("upload: %s", resp.Status)
			}
			return nil
		},
	})

	var dir string
	serveDown := &cobra.Command{
		Use:   "serve-download <addr>",
		Short: "Serve cached artifacts over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return http.ListenAndServe(args[0], http.FileServer(http.Dir(dir)))
		},
	}
	serveDown.Flags().StringVar(&dir, "dir", ".", "directory to serve")
	cmd.AddCommand(serveDown)

	var upDir string
	serveUp := &cobra.Command{
		Use:   "serve-upload <addr>",
		Short: "Accept artifact uploads over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					http.Error(w, "POST only", http.StatusMethodNotAllowed)
					return
				}
				name := filepath.Base(r.URL.Path)
				if name == "/" || name == "." {
					http.Error(w, "missing name", http.StatusBadRequest)
					return
				}
				f, err := os.Create(filepath.Join(upDir, name))
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				defer f.Close()
				if _, err := io.Copy(f, r.Body); err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.WriteHeader(http.StatusCreated)
			})
			return http.ListenAndServe(args[0], handler)
		},
	}
	serveUp.Flags().StringVar(&upDir, "dir", ".", "directory to store uploads")
	cmd.AddCommand(serveUp)

	return cmd
}

// newModelConvertCmd wires the weight-import collaborator interface. The
// ONNX/TensorFlow/PyTorch parsers are external collaborators; without one
// registered, only raw little-endian float32 input converts.
func newModelConvertCmd() *cobra.Command {
	var onnx, tf, pytorch bool
	var out string
	cmd := &cobra.Command{
		Use:   "model-convert <in>",
		Short: "Convert imported model weights to HNWT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case onnx:
				return fmt.Errorf("no onnx importer registered (external collaborator)")
			case tf:
				return fmt.Errorf("no tensorflow importer registered (external collaborator)")
			case pytorch:
				return fmt.Errorf("no pytorch importer registered (external collaborator)")
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if len(data)%4 != 0 {
				return fmt.Errorf("raw input must be little-endian float32 (length %d not a multiple of 4)", len(data))
			}
			t := tensor.Tensor{Kind: tensor.Float32, Shape: []uint32{uint32(len(data) / 4)}, Data: data}

			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".hnwt"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := serialize.WriteWeights(f, []tensor.Tensor{t}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&onnx, "onnx", false, "input is ONNX")
	cmd.Flags().BoolVar(&tf, "tensorflow", false, "input is a TensorFlow checkpoint")
	cmd.Flags().BoolVar(&pytorch, "pytorch", false, "input is a PyTorch state dict")
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path")
	return cmd
}

// newPluginPackagerCmd bundles a plugin shared object into a tar.gz
// (.hplug), and installs such bundles into a plugin directory. The bundle
// holds the shared object only; no manifest is written into it.
func newPluginPackagerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin-packager",
		Short: "Package and install kernel plugins",
	}

	var out string
	pack := &cobra.Command{
		Use:   "package <plugin.so>",
		Short: "Bundle a plugin shared object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = strings.TrimSuffix(filepath.Base(args[0]), ".so") + ".hplug"
			}
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()
			gz := gzip.NewWriter(f)
			tw := tar.NewWriter(gz)

			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if err := tw.WriteHeader(&tar.Header{
				Name: filepath.Base(args[0]),
				Mode: 0o755,
				Size: int64(len(data)),
			}); err != nil {
				return err
			}
			if _, err := tw.Write(data); err != nil {
				return err
			}
			if err := tw.Close(); err != nil {
				return err
			}
			if err := gz.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	pack.Flags().StringVarP(&out, "output", "o", "", "bundle output path")
	cmd.AddCommand(pack)

	var dir string
	install := &cobra.Command{
		Use:   "install <bundle.hplug>",
		Short: "Extract a plugin bundle into the plugin directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			gz, err := gzip.NewReader(f)
			if err != nil {
				return err
			}
			tr := tar.NewReader(gz)
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
				name := filepath.Base(hdr.Name)
				if !strings.HasSuffix(name, ".so") {
					continue
				}
				dst, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
				if err != nil {
					return err
				}
				if _, err := io.Copy(dst, tr); err != nil {
					dst.Close()
					return err
				}
				dst.Close()
				fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", name)
			}
			return nil
		},
	}
	install.Flags().StringVar(&dir, "dir", "plugins", "plugin install directory")
	cmd.AddCommand(install)

	return cmd
}
