package upload_test

import (
	"context"
	"image"
	"net/http"
	"os"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/imageproc"
	"github.com/mnemion/ocrdesk/internal/testutil"
	"github.com/mnemion/ocrdesk/internal/upload"
)

type errorRecorder struct {
	mu   sync.Mutex
	errs []string
}

func (r *errorRecorder) Success(string) {}
func (r *errorRecorder) Info(string)    {}
func (r *errorRecorder) Warning(string) {}

func (r *errorRecorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, msg)
}

func (r *errorRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errs...)
}

var _ = Describe("Flow", func() {
	var (
		backend  *testutil.Backend
		client   *api.Client
		previews *imageproc.Previews
		toasts   *errorRecorder
		flow     *upload.Flow
	)

	BeforeEach(func() {
		backend, client = signedInClient()
		var err error
		previews, err = imageproc.NewPreviews(GinkgoT().TempDir())
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(previews.Close)
		toasts = &errorRecorder{}
		flow = upload.NewFlow(client, upload.FlowOptions{
			Model:        "tesseract",
			Language:     "kor+eng",
			Quality:      90,
			MaxDimension: 64,
			Notifier:     toasts,
			Previews:     previews,
		})
		DeferCleanup(flow.Close)
	})

	It("starts idle and refuses to upload without a file", func() {
		Expect(flow.State()).To(Equal(upload.StateIdle))
		_, err := flow.Upload(context.Background(), nil)
		Expect(err).To(MatchError(upload.ErrNoFile))
	})

	Describe("Select", func() {
		It("moves a valid image to previewing and renders a preview", func() {
			Expect(flow.Select(pngFile("scan.png", 20, 10))).To(Succeed())

			Expect(flow.State()).To(Equal(upload.StatePreviewing))
			Expect(flow.PreviewPath()).To(BeAnExistingFile())
			f, ok := flow.File()
			Expect(ok).To(BeTrue())
			Expect(f.Name).To(Equal("scan.png"))
		})

		It("stays idle and toasts the reason for a rejected file", func() {
			err := flow.Select(upload.FromBytes("notes.txt", []byte("hello")))

			Expect(err).To(MatchError(upload.ErrInvalidFile))
			Expect(flow.State()).To(Equal(upload.StateIdle))
			Expect(flow.LastError()).To(Equal(upload.MsgInvalidType))
			Expect(toasts.all()).To(ConsistOf(upload.MsgInvalidType))
			_, ok := flow.File()
			Expect(ok).To(BeFalse())
		})

		It("rejects bytes that claim to be PNG but do not decode", func() {
			broken := upload.File{Name: "x.png", Size: 8, MIMEType: "image/png", Data: []byte("\x89PNG\r\n\x1a\n")}
			Expect(flow.Select(broken)).To(MatchError(upload.ErrInvalidFile))
			Expect(flow.State()).To(Equal(upload.StateIdle))
		})
	})

	Describe("crop", func() {
		BeforeEach(func() {
			Expect(flow.Select(pngFile("scan.png", 20, 10))).To(Succeed())
		})

		It("round-trips through editing-crop", func() {
			Expect(flow.BeginCrop()).To(Succeed())
			Expect(flow.State()).To(Equal(upload.StateEditingCrop))
			Expect(flow.BeginCrop()).To(MatchError(upload.ErrWrongState))
			flow.CancelCrop()
			Expect(flow.State()).To(Equal(upload.StatePreviewing))
		})

		It("replaces the upload payload with the cropped image", func() {
			before, _ := flow.File()
			Expect(flow.BeginCrop()).To(Succeed())
			Expect(flow.Crop(image.Rect(0, 0, 5, 5), 0)).To(Succeed())

			after, _ := flow.File()
			Expect(flow.State()).To(Equal(upload.StatePreviewing))
			Expect(after.Data).NotTo(Equal(before.Data))
			img, err := imageproc.Decode(after.Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Img.Bounds().Dx()).To(Equal(5))
			Expect(img.Img.Bounds().Dy()).To(Equal(5))
		})

		It("swaps the dimensions on a quarter turn", func() {
			Expect(flow.Crop(image.Rect(0, 0, 100, 100), 90)).To(Succeed())
			after, _ := flow.File()
			img, err := imageproc.Decode(after.Data)
			Expect(err).NotTo(HaveOccurred())
			Expect(img.Img.Bounds().Dx()).To(Equal(10))
			Expect(img.Img.Bounds().Dy()).To(Equal(20))
		})

		It("clamps zoom without touching the payload", func() {
			before, _ := flow.File()
			Expect(flow.SetZoom(5)).To(Equal(imageproc.MaxZoom))
			Expect(flow.SetZoom(0.1)).To(Equal(imageproc.MinZoom))
			after, _ := flow.File()
			Expect(after.Data).To(Equal(before.Data))
		})
	})

	Describe("Upload", func() {
		BeforeEach(func() {
			Expect(flow.Select(pngFile("영수증.png", 20, 10))).To(Succeed())
		})

		It("reports milestones and ends succeeded with the normalised result", func() {
			var seen []int
			res, err := flow.Upload(context.Background(), func(p int) { seen = append(seen, p) })

			Expect(err).NotTo(HaveOccurred())
			Expect(seen).To(Equal([]int{upload.ProgressPrepared, upload.ProgressSent, upload.ProgressReceived, upload.ProgressDone}))
			Expect(res.ID).To(BeNumerically(">", 0))
			Expect(res.Text).To(Equal(testutil.TextFor("영수증.png")))
			Expect(res.Filename).To(Equal("영수증.png"))
			Expect(flow.State()).To(Equal(upload.StateSucceeded))
			Expect(flow.Progress()).To(Equal(100))
		})

		It("sends a generated name alongside the original", func() {
			_, err := flow.Upload(context.Background(), nil)
			Expect(err).NotTo(HaveOccurred())

			var sent testutil.RecordedRequest
			for _, r := range backend.Requests() {
				if r.Method == http.MethodPost && r.Path == "/api/extract" {
					sent = r
				}
			}
			Expect(sent.Files["file"]).To(MatchRegexp(`^\d+_[0-9a-f]{8}\.png$`))
			Expect(sent.Form["original_filename"]).To(Equal("영수증.png"))
			Expect(sent.Form["model"]).To(Equal("tesseract"))
			Expect(sent.Form["language"]).To(Equal("kor+eng"))
		})

		It("returns to previewing with the file kept on failure", func() {
			backend.Fail("POST /api/extract", http.StatusInternalServerError, "OCR 엔진 오류", 1)

			_, err := flow.Upload(context.Background(), nil)

			Expect(err).To(MatchError(ContainSubstring("OCR 엔진 오류")))
			Expect(flow.State()).To(Equal(upload.StatePreviewing))
			Expect(flow.LastError()).To(Equal("OCR 엔진 오류"))
			Expect(toasts.all()).To(ConsistOf("텍스트 추출에 실패했습니다: OCR 엔진 오류"))
			_, ok := flow.File()
			Expect(ok).To(BeTrue())

			_, err = flow.Upload(context.Background(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(flow.State()).To(Equal(upload.StateSucceeded))
		})

		It("treats a response without an id as a failure", func() {
			backend.FailWith("POST /api/extract", http.StatusOK,
				map[string]any{"success": true, "extracted_text": "text"}, 1)

			_, err := flow.Upload(context.Background(), nil)
			Expect(err).To(MatchError(upload.ErrNoResult))
			Expect(flow.State()).To(Equal(upload.StatePreviewing))
		})

		It("reports cancellation", func() {
			backend.OnExtract = func(r *http.Request, _ string) { <-r.Context().Done() }
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				defer GinkgoRecover()
				Eventually(flow.State).Should(Equal(upload.StateUploading))
				Eventually(func() int { return backend.Count(http.MethodPost, "/api/extract") }).Should(Equal(1))
				cancel()
			}()

			_, err := flow.Upload(ctx, nil)
			Expect(err).To(MatchError(upload.ErrCancelled))
			Expect(flow.State()).To(Equal(upload.StatePreviewing))
		})
	})

	It("releases the preview on reset", func() {
		Expect(flow.Select(pngFile("scan.png", 20, 10))).To(Succeed())
		path := flow.PreviewPath()
		Expect(path).To(BeAnExistingFile())

		flow.Reset()

		Expect(flow.State()).To(Equal(upload.StateIdle))
		Expect(flow.PreviewPath()).To(BeEmpty())
		_, err := os.Stat(path)
		Expect(os.IsNotExist(err)).To(BeTrue())
		Expect(previews.Len()).To(Equal(0))
	})
})
