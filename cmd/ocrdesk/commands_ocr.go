package main

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/imageproc"
	"github.com/mnemion/ocrdesk/internal/upload"
)

func addOCRFlags(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "OCR model (default from configuration)")
	cmd.Flags().String("language", "", "OCR language (default from configuration)")
}

func ocrOptions(cmd *cobra.Command, a *app) (model, language string) {
	model, _ = cmd.Flags().GetString("model")
	language, _ = cmd.Flags().GetString("language")
	if model == "" {
		model = a.cfg.OCR.Model
	}
	if language == "" {
		language = a.cfg.OCR.Language
	}
	return model, language
}

func addEditFlags(cmd *cobra.Command) {
	cmd.Flags().String("crop", "", "crop rectangle x,y,w,h (after rotation)")
	cmd.Flags().Float64("rotate", 0, "rotate clockwise by degrees")
	cmd.Flags().Float64("zoom", 1, "preview zoom (0.5-2.0)")
}

func newFlow(cmd *cobra.Command, a *app) *upload.Flow {
	model, language := ocrOptions(cmd, a)
	return upload.NewFlow(a.client, upload.FlowOptions{
		Model:        model,
		Language:     language,
		Quality:      a.cfg.Image.Quality,
		MaxDimension: a.cfg.Image.MaxDimension,
		Notifier:     a.toasts,
		Previews:     a.previews,
	})
}

// prepare loads path into flow and applies the edit flags.
func prepare(cmd *cobra.Command, a *app, flow *upload.Flow, path string) error {
	file, err := upload.ReadFile(path)
	if err != nil {
		return err
	}
	if err := flow.Select(file); err != nil {
		return reported(err)
	}
	zoom := a.cfg.Image.Zoom
	if cmd.Flags().Changed("zoom") {
		zoom, _ = cmd.Flags().GetFloat64("zoom")
	}
	flow.SetZoom(zoom)

	cropSpec, _ := cmd.Flags().GetString("crop")
	degrees, _ := cmd.Flags().GetFloat64("rotate")
	if cropSpec == "" && degrees == 0 {
		return nil
	}
	var rect image.Rectangle
	if cropSpec != "" {
		if rect, err = imageproc.ParseRect(cropSpec); err != nil {
			return err
		}
	}
	if err := flow.BeginCrop(); err != nil {
		return err
	}
	if err := flow.Crop(rect, degrees); err != nil {
		flow.CancelCrop()
		return fmt.Errorf("applying crop: %w", err)
	}
	return nil
}

func progressPrinter(label string) func(int) {
	return func(p int) {
		printStep("%s %3d%%", label, p)
	}
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract text from one image",
	Long: `Extract text from one JPG or PNG image (10MB max).

Examples:
  ocrdesk extract receipt.png
  ocrdesk extract scan.jpg --rotate 90 --crop 0,0,800,600 --save-text scan.txt`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			flow := newFlow(cmd, a)
			defer flow.Close()
			if err := prepare(cmd, a, flow, args[0]); err != nil {
				return err
			}

			res, err := flow.Upload(cmd.Context(), progressPrinter(filepath.Base(args[0])))
			if err != nil {
				return reported(err)
			}
			a.history.Invalidate()

			printSuccess("텍스트 추출 완료 (#%d %s)", res.ID, res.Filename)
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)

			if path, _ := cmd.Flags().GetString("save-text"); path != "" {
				if err := os.WriteFile(path, []byte(res.Text), 0o644); err != nil {
					return fmt.Errorf("saving text: %w", err)
				}
				printSuccess("텍스트를 %s에 저장했습니다", path)
			}
			return nil
		})
	},
}

var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Render the image as it would be uploaded",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			flow := newFlow(cmd, a)
			defer flow.Close()
			if err := prepare(cmd, a, flow, args[0]); err != nil {
				return err
			}

			out, _ := cmd.Flags().GetString("out")
			if out == "" {
				base := strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
				out = base + "_preview.png"
			}
			if err := copyFile(flow.PreviewPath(), out); err != nil {
				return err
			}
			f, _ := flow.File()
			printStatus("size", "%d bytes", f.Size)
			printStatus("zoom", "%.2f", flow.Zoom())
			printSuccess("미리보기를 %s에 저장했습니다", out)
			return nil
		})
	},
}

func copyFile(src, dst string) error {
	if src == "" {
		return fmt.Errorf("no preview rendered")
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func init() {
	addOCRFlags(extractCmd)
	addEditFlags(extractCmd)
	extractCmd.Flags().String("save-text", "", "also write the extracted text to this file")

	addEditFlags(previewCmd)
	previewCmd.Flags().String("out", "", "output PNG path (default <name>_preview.png)")
}

// --- batch ---

var batchCmd = &cobra.Command{
	Use:   "batch <files...>",
	Short: "Extract text from several images",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(a *app) error {
			model, language := ocrOptions(cmd, a)
			concurrency := a.cfg.Batch.Concurrency
			if cmd.Flags().Changed("concurrency") {
				concurrency, _ = cmd.Flags().GetInt("concurrency")
			}
			b := upload.NewBatch(a.client, upload.BatchOptions{
				Concurrency:   concurrency,
				RatePerSecond: a.cfg.Batch.RatePerSecond,
				Model:         model,
				Language:      language,
				Journal:       a.local,
				Notifier:      a.toasts,
			})

			var files []upload.File
			for _, path := range args {
				f, err := upload.ReadFile(path)
				if err != nil {
					printError("%v", err)
					continue
				}
				files = append(files, f)
			}
			for _, e := range b.Add(files...) {
				if e.Status == upload.StatusError {
					printWarning("%s: %s", e.File.Name, e.Error)
				}
			}

			runErr := b.Run(cmd.Context(), func(u upload.Update) {
				if u.Entry.Status.Terminal() {
					printStep("[%3d%%] %s: %s", u.Percent, u.Entry.File.Name, u.Entry.Status)
				}
			})
			a.history.Invalidate()

			writeBatchTable(cmd.OutOrStdout(), b.Entries())

			if dir, _ := cmd.Flags().GetString("save-dir"); dir != "" {
				if err := saveTexts(dir, b.Successful()); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			if len(b.Successful()) < len(b.Entries()) {
				return reported(fmt.Errorf("%d of %d files failed", len(b.Entries())-len(b.Successful()), len(b.Entries())))
			}
			return nil
		})
	},
}

func writeBatchTable(w io.Writer, entries []upload.Entry) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tFILE\tID\tDETAIL")
	for _, e := range entries {
		id, detail := "-", e.Error
		if e.Result != nil {
			id = fmt.Sprint(e.Result.ID)
			detail = firstLine(e.Result.Text, 40)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Status, e.File.Name, id, detail)
	}
	tw.Flush()
}

func saveTexts(dir string, entries []upload.Entry) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		name := strings.TrimSuffix(e.File.Name, filepath.Ext(e.File.Name)) + ".txt"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(e.Result.Text), 0o644); err != nil {
			return fmt.Errorf("saving %s: %w", name, err)
		}
	}
	printSuccess("%d개 파일의 텍스트를 %s에 저장했습니다", len(entries), dir)
	return nil
}

func init() {
	addOCRFlags(batchCmd)
	batchCmd.Flags().Int("concurrency", 1, "uploads in flight at once")
	batchCmd.Flags().String("save-dir", "", "write each extracted text to <dir>/<name>.txt")
}

// --- receipt / business card / table ---

func readUpload(path string) (api.Upload, error) {
	f, err := upload.ReadFile(path)
	if err != nil {
		return api.Upload{}, err
	}
	return api.Upload{Filename: f.Name, ContentType: f.MIMEType, Data: f.Data}, nil
}

// readImage is readUpload restricted to the image types the OCR endpoints accept.
func readImage(path string) (api.Upload, error) {
	f, err := upload.ReadFile(path)
	if err != nil {
		return api.Upload{}, err
	}
	if err := upload.Validate(f); err != nil {
		return api.Upload{}, err
	}
	return api.Upload{Filename: f.Name, ContentType: f.MIMEType, Data: f.Data}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var receiptCmd = &cobra.Command{
	Use:   "receipt <file>",
	Short: "Parse a receipt into items and totals",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := readImage(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			model, _ := ocrOptions(cmd, a)
			r, err := a.client.ParseReceipt(cmd.Context(), u, model)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(out, r)
			}
			fmt.Fprintf(out, "%s  %s %s\n", colorize(colorBold, r.Store), r.Date, r.Time)
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ITEM\tQTY\tUNIT\tPRICE")
			for _, it := range r.Items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", it.Name, it.Quantity, it.UnitPrice, it.Price)
			}
			tw.Flush()
			fmt.Fprintf(out, "%s %s", colorize(colorBold, "합계:"), r.TotalAmount)
			if r.PaymentMethod != "" {
				fmt.Fprintf(out, " (%s)", r.PaymentMethod)
			}
			fmt.Fprintln(out)
			return nil
		})
	},
}

var businessCardCmd = &cobra.Command{
	Use:   "business-card <file>",
	Short: "Parse a business card into contact fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := readImage(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd, func(a *app) error {
			model, _ := ocrOptions(cmd, a)
			c, err := a.client.ParseBusinessCard(cmd.Context(), u, model)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(out, c)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, row := range [][2]string{
				{"이름", c.Name},
				{"직책", c.Position},
				{"회사", c.Company},
				{"이메일", strings.Join(c.Email, ", ")},
				{"전화", strings.Join(c.Phone, ", ")},
				{"주소", c.Address},
				{"웹사이트", strings.Join(c.Website, ", ")},
			} {
				if row[1] != "" {
					fmt.Fprintf(tw, "%s\t%s\n", row[0], row[1])
				}
			}
			return tw.Flush()
		})
	},
}

var tableCmd = &cobra.Command{
	Use:   "table <file>",
	Short: "Extract a table from an image or PDF into CSV or Excel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := api.TableFormat(mustString(cmd, "format"))
		if format != api.TableCSV && format != api.TableExcel {
			return fmt.Errorf("--format must be csv or excel")
		}
		u, err := readUpload(args[0])
		if err != nil {
			return err
		}
		switch strings.ToLower(filepath.Ext(u.Filename)) {
		case ".jpg", ".jpeg", ".png":
		case ".pdf":
			info, err := imageproc.InspectPDF(u.Data)
			if err != nil {
				return err
			}
			u.ContentType = "application/pdf"
			printStatus("pages", "%d", info.Pages)
			if !info.HasText {
				printInfo("텍스트 레이어가 없는 PDF입니다. OCR로 처리합니다.")
			}
		default:
			return fmt.Errorf("지원되지 않는 파일 형식입니다 (JPG, JPEG, PNG, PDF)")
		}

		return withApp(cmd, func(a *app) error {
			d, err := a.client.ExtractTable(cmd.Context(), u, format)
			if err != nil {
				return err
			}
			out := mustString(cmd, "out")
			if out == "" {
				out = d.Filename
			}
			if err := os.WriteFile(out, d.Data, 0o644); err != nil {
				return fmt.Errorf("saving table: %w", err)
			}
			printSuccess("표를 %s에 저장했습니다", out)
			return nil
		})
	},
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func init() {
	addOCRFlags(receiptCmd)
	receiptCmd.Flags().Bool("json", false, "print the parsed receipt as JSON")
	addOCRFlags(businessCardCmd)
	businessCardCmd.Flags().Bool("json", false, "print the parsed card as JSON")
	tableCmd.Flags().String("format", string(api.TableCSV), "output format: csv or excel")
	tableCmd.Flags().String("out", "", "output path (default: name from the server)")
}

// --- text tools ---

// inputText resolves the text argument: positional args, --file, or an
// extraction with --id.
func inputText(cmd *cobra.Command, a *app, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if path := mustString(cmd, "file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading file: %w", err)
		}
		return string(data), nil
	}
	if id, _ := cmd.Flags().GetInt64("id"); id > 0 {
		e, err := a.client.GetText(cmd.Context(), id)
		if err != nil {
			return "", err
		}
		if e.ExtractedText != "" {
			return e.ExtractedText, nil
		}
		return e.Text, nil
	}
	return "", fmt.Errorf("text, --file or --id is required")
}

func addTextSourceFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "read the text from a file")
	cmd.Flags().Int64("id", 0, "use the text of an extraction")
}

var summarizeCmd = &cobra.Command{
	Use:   "summarize [text...]",
	Short: "Summarize text",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			text, err := inputText(cmd, a, args)
			if err != nil {
				return err
			}
			maxLen, _ := cmd.Flags().GetInt("max-length")
			s, err := a.client.Summarize(cmd.Context(), api.SummarizeRequest{
				Text:      text,
				Engine:    mustString(cmd, "engine"),
				Style:     mustString(cmd, "style"),
				MaxLength: maxLen,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Summary)
			printStatus("ratio", "%d → %d (%.0f%%)", s.OriginalLength, s.SummaryLength, s.Ratio*100)
			return nil
		})
	},
}

var translateCmd = &cobra.Command{
	Use:   "translate [text...]",
	Short: "Translate text",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := mustString(cmd, "to")
		if target == "" {
			return fmt.Errorf("--to is required")
		}
		return withApp(cmd, func(a *app) error {
			text, err := inputText(cmd, a, args)
			if err != nil {
				return err
			}
			t, err := a.client.Translate(cmd.Context(), api.TranslateRequest{
				Text:       text,
				TargetLang: target,
				SourceLang: mustString(cmd, "from"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.TranslatedText)
			printStatus("languages", "%s → %s", t.SourceLanguageName, t.TargetLanguageName)
			return nil
		})
	},
}

var detectLanguageCmd = &cobra.Command{
	Use:   "detect-language [text...]",
	Short: "Detect the language of text",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(a *app) error {
			text, err := inputText(cmd, a, args)
			if err != nil {
				return err
			}
			l, err := a.client.DetectLanguage(cmd.Context(), text)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", l.Name, l.Code)
			return nil
		})
	},
}

func init() {
	addTextSourceFlags(summarizeCmd)
	summarizeCmd.Flags().String("engine", "", "summarizer engine")
	summarizeCmd.Flags().String("style", "", "summary style")
	summarizeCmd.Flags().Int("max-length", 0, "upper bound on summary length")

	addTextSourceFlags(translateCmd)
	translateCmd.Flags().String("to", "", "target language code")
	translateCmd.Flags().String("from", "", "source language code (detected when empty)")

	addTextSourceFlags(detectLanguageCmd)
}
