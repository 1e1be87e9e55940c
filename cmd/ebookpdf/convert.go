package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/ebookpdf/internal/pages"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const downloadPrefix = "Download at: "

type convertOptions struct {
	cookiesPath string
	targetURL   string
	pages       string
}

type convertResult struct {
	jobID string
	link  string
}

func convertCmd(baseURL, token *string, ui *ui) *cobra.Command {
	var (
		opts     convertOptions
		download bool
		output   string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:     "convert",
		Short:   "Convert an ebook into a PDF",
		Example: "ebookpdf convert --cookies cookies.txt --url https://reader.example.com/book/42 --pages 1-20 --download",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(opts.cookiesPath) == "" {
				return errors.New("--cookies is required")
			}
			if strings.TrimSpace(opts.targetURL) == "" {
				return errors.New("--url is required")
			}
			if _, err := os.Stat(opts.cookiesPath); err != nil {
				return fmt.Errorf("cookie file: %w", err)
			}
			if !quiet {
				fmt.Printf("%s %s %s\n", ui.info("[PAGES]"), opts.pages, ui.dim("("+pages.Expand(opts.pages)+")"))
			}

			// Conversions stream for as long as the converter runs.
			c := newClient(*baseURL, *token, 0)
			var out io.Writer = os.Stdout
			if quiet {
				out = io.Discard
			}
			res, err := runConvert(c, opts, out)
			if err != nil {
				return err
			}
			if res.link == "" {
				return fmt.Errorf("conversion failed (job %s)", emptyOr(res.jobID, "unknown"))
			}
			fmt.Printf("%s PDF ready: %s\n", ui.ok("[OK]"), res.link)

			if !download {
				return nil
			}
			dest := output
			if dest == "" {
				dest = fileNameFromLink(res.link)
			}
			n, err := downloadFile(newClient(*baseURL, *token, 0), res.link, dest, !quiet)
			if err != nil {
				return err
			}
			fmt.Printf("%s Saved %s (%d bytes)\n", ui.ok("[OK]"), dest, n)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.cookiesPath, "cookies", "", "Cookie file for the reader session")
	cmd.Flags().StringVar(&opts.targetURL, "url", "", "Book URL")
	cmd.Flags().StringVar(&opts.pages, "pages", "", "Pages, e.g. 1-3,7")
	cmd.Flags().BoolVar(&download, "download", false, "Download the PDF when ready")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Download destination (default: the artifact name)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide converter output")
	return cmd
}

// runConvert uploads the form and copies the streamed converter output to out.
// The returned link is empty when the job did not produce a PDF.
func runConvert(c *client, opts convertOptions, out io.Writer) (convertResult, error) {
	f, err := os.Open(opts.cookiesPath)
	if err != nil {
		return convertResult{}, err
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, f, opts))
	}()

	req, err := c.newRequest(http.MethodPost, "/create", pr)
	if err != nil {
		return convertResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " Waiting for converter..."
	spin.Writer = os.Stderr
	spin.Start()
	resp, err := c.httpClient.Do(req)
	spin.Stop()
	if err != nil {
		return convertResult{}, err
	}
	defer resp.Body.Close()

	res := convertResult{jobID: resp.Header.Get("X-Job-Id")}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return res, fmt.Errorf("error (%d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	link, err := streamOutput(resp.Body, out)
	if err != nil {
		return res, err
	}
	res.link = link
	return res, nil
}

func writeForm(mw *multipart.Writer, cookies io.Reader, opts convertOptions) error {
	fw, err := mw.CreateFormFile("cookies", filepath.Base(opts.cookiesPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, cookies); err != nil {
		return err
	}
	if err := mw.WriteField("baseUrl", opts.targetURL); err != nil {
		return err
	}
	if err := mw.WriteField("pages", opts.pages); err != nil {
		return err
	}
	return mw.Close()
}

// streamOutput echoes converter lines as they arrive and picks out the download link.
func streamOutput(r io.Reader, out io.Writer) (string, error) {
	var link string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, downloadPrefix) {
			link = strings.TrimSpace(strings.TrimPrefix(line, downloadPrefix))
			continue
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return "", err
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return link, nil
}

func downloadFile(c *client, link, dest string, showProgress bool) (int64, error) {
	req, err := http.NewRequest(http.MethodGet, link, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download failed (%d)", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	var w io.Writer = f
	if showProgress {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription("Downloading"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(24),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		w = io.MultiWriter(f, bar)
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return 0, err
	}
	return n, nil
}

func fileNameFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "ebook.pdf"
	}
	return path.Base(u.Path)
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
