package upload_test

import (
	"context"
	"net/http"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/storage"
	"github.com/mnemion/ocrdesk/internal/testutil"
	"github.com/mnemion/ocrdesk/internal/upload"
)

type memJournal struct {
	mu      sync.Mutex
	records map[string]storage.UploadRecord
}

func (j *memJournal) SaveUpload(u storage.UploadRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.records == nil {
		j.records = make(map[string]storage.UploadRecord)
	}
	j.records[u.ID] = u
	return nil
}

func (j *memJournal) get(id string) storage.UploadRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.records[id]
}

var _ = Describe("Batch", func() {
	var (
		backend *testutil.Backend
		client  *api.Client
		journal *memJournal
		batch   *upload.Batch
		updates []upload.Update
		mu      sync.Mutex
	)

	record := func(u upload.Update) {
		mu.Lock()
		defer mu.Unlock()
		updates = append(updates, u)
	}

	BeforeEach(func() {
		backend, client = signedInClient()
		journal = &memJournal{}
		updates = nil
		batch = upload.NewBatch(client, upload.BatchOptions{Model: "tesseract", Language: "kor", Journal: journal})
	})

	Describe("Add", func() {
		It("skips a file with the same name and size", func() {
			a := upload.File{Name: "a.png", Size: 100, MIMEType: "image/png", Data: make([]byte, 100)}
			batch.Add(a)
			batch.Add(a)

			Expect(batch.Entries()).To(HaveLen(1))
		})

		It("keeps same-named files of different sizes", func() {
			batch.Add(
				upload.File{Name: "a.png", Size: 100, MIMEType: "image/png"},
				upload.File{Name: "a.png", Size: 101, MIMEType: "image/png"},
			)
			Expect(batch.Entries()).To(HaveLen(2))
		})

		It("lists invalid files as errors with the reason", func() {
			added := batch.Add(upload.File{Name: "notes.txt", Size: 10, MIMEType: "text/plain"})

			Expect(added).To(HaveLen(1))
			Expect(added[0].Status).To(Equal(upload.StatusError))
			Expect(added[0].Error).To(Equal(upload.MsgInvalidType))
		})
	})

	Describe("Run", func() {
		It("uploads every valid file and reaches exactly 100", func() {
			batch.Add(pngFile("one.png", 4, 4), pngFile("two.png", 5, 5), pngFile("three.png", 6, 6))

			Expect(batch.Run(context.Background(), record)).To(Succeed())

			entries := batch.Entries()
			Expect(entries).To(HaveLen(3))
			for _, e := range entries {
				Expect(e.Status).To(Equal(upload.StatusSuccess))
				Expect(e.Result).NotTo(BeNil())
				Expect(e.Result.ID).To(BeNumerically(">", 0))
				Expect(e.Result.Text).To(Equal(testutil.TextFor(e.File.Name)))
			}
			Expect(batch.Complete()).To(BeTrue())
			Expect(batch.Percent()).To(Equal(100))
			Expect(batch.Successful()).To(HaveLen(3))

			mu.Lock()
			defer mu.Unlock()
			last := updates[len(updates)-1]
			Expect(last.Percent).To(Equal(100))
			Expect(last.Complete).To(BeTrue())
		})

		It("reports monotonically increasing aggregate progress when sequential", func() {
			batch.Add(pngFile("one.png", 4, 4), pngFile("two.png", 5, 5))
			Expect(batch.Run(context.Background(), record)).To(Succeed())

			mu.Lock()
			defer mu.Unlock()
			prev := 0
			for _, u := range updates {
				Expect(u.Percent).To(BeNumerically(">=", prev))
				prev = u.Percent
			}
		})

		It("sends generated names and keeps the original as metadata", func() {
			batch.Add(pngFile("내 사진.png", 4, 4))
			Expect(batch.Run(context.Background(), nil)).To(Succeed())

			var sent testutil.RecordedRequest
			for _, r := range backend.Requests() {
				if r.Path == "/api/extract/base64" {
					sent = r
				}
			}
			Expect(sent.JSON["original_filename"]).To(Equal("내 사진.png"))
			Expect(sent.JSON["filename"]).To(MatchRegexp(`^\d+_[0-9a-f]{8}\.png$`))
			Expect(sent.JSON["file_data"]).To(HavePrefix("data:image/png;base64,"))
			Expect(sent.JSON["model"]).To(Equal("tesseract"))
			Expect(sent.JSON["language"]).To(Equal("kor"))
		})

		It("isolates a failing file from the rest", func() {
			backend.FailFile("two.png", "OCR 처리 중 오류가 발생했습니다")
			batch.Add(pngFile("one.png", 4, 4), pngFile("two.png", 5, 5), pngFile("three.png", 6, 6))

			Expect(batch.Run(context.Background(), nil)).To(Succeed())

			entries := batch.Entries()
			Expect(entries[0].Status).To(Equal(upload.StatusSuccess))
			Expect(entries[1].Status).To(Equal(upload.StatusError))
			Expect(entries[1].Error).To(Equal("OCR 처리 중 오류가 발생했습니다"))
			Expect(entries[2].Status).To(Equal(upload.StatusSuccess))
			Expect(batch.Complete()).To(BeTrue())
			Expect(batch.Percent()).To(Equal(100))
			Expect(batch.Successful()).To(HaveLen(2))
		})

		It("does not count a response without a usable id as success", func() {
			backend.FailWith("POST /api/extract/base64", http.StatusOK,
				map[string]any{"success": true, "text": "orphan", "id": 0}, 1)
			batch.Add(pngFile("one.png", 4, 4))

			Expect(batch.Run(context.Background(), nil)).To(Succeed())

			e := batch.Entries()[0]
			Expect(e.Status).To(Equal(upload.StatusError))
			Expect(e.Error).To(Equal(upload.ErrNoResult.Error()))
			Expect(batch.Successful()).To(BeEmpty())
		})

		It("unwraps a nested id object before recording success", func() {
			backend.FailWith("POST /api/extract/base64", http.StatusOK,
				map[string]any{"success": true, "id": map[string]any{"id": 42}, "text": "hello"}, 1)
			batch.Add(pngFile("one.png", 4, 4))

			Expect(batch.Run(context.Background(), nil)).To(Succeed())

			e := batch.Entries()[0]
			Expect(e.Status).To(Equal(upload.StatusSuccess))
			Expect(e.Result.ID).To(Equal(int64(42)))
			Expect(e.Result.Text).To(Equal("hello"))
		})

		It("journals each outcome", func() {
			backend.FailFile("bad.png", "실패")
			batch.Add(pngFile("good.png", 4, 4), pngFile("bad.png", 5, 5))
			Expect(batch.Run(context.Background(), nil)).To(Succeed())

			entries := batch.Entries()
			good := journal.get(entries[0].ID)
			Expect(good.Status).To(Equal(string(upload.StatusSuccess)))
			Expect(good.BatchID).To(Equal(batch.ID()))
			Expect(good.ExtractionID).To(Equal(entries[0].Result.ID))
			Expect(journal.get(entries[1].ID).Error).To(Equal("실패"))
		})

		It("runs only pending entries on a second call", func() {
			batch.Add(pngFile("one.png", 4, 4))
			Expect(batch.Run(context.Background(), nil)).To(Succeed())
			batch.Add(pngFile("two.png", 5, 5))
			Expect(batch.Run(context.Background(), nil)).To(Succeed())

			Expect(backend.Count(http.MethodPost, "/api/extract/base64")).To(Equal(2))
		})
	})

	Describe("cancellation", func() {
		It("aborts the in-flight upload and skips the rest", func() {
			entered := make(chan string, 3)
			backend.OnExtract = func(r *http.Request, name string) {
				entered <- name
				<-r.Context().Done()
			}
			batch.Add(pngFile("one.png", 4, 4), pngFile("two.png", 5, 5), pngFile("three.png", 6, 6))

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- batch.Run(ctx, nil) }()

			Eventually(entered).Should(Receive(Equal("one.png")))
			cancel()

			var err error
			Eventually(done).WithTimeout(5 * time.Second).Should(Receive(&err))
			Expect(err).To(MatchError(upload.ErrCancelled))

			for _, e := range batch.Entries() {
				Expect(e.Status).To(Equal(upload.StatusError))
				Expect(e.Error).To(Equal(upload.MsgCancelled))
			}
			Expect(entered).NotTo(Receive())
			Expect(batch.Complete()).To(BeTrue())
		})

		It("refuses a second concurrent run", func() {
			release := make(chan struct{})
			backend.OnExtract = func(*http.Request, string) { <-release }
			batch.Add(pngFile("one.png", 4, 4))

			done := make(chan error, 1)
			go func() { done <- batch.Run(context.Background(), nil) }()
			Eventually(func() upload.Status { return batch.Entries()[0].Status }).Should(Equal(upload.StatusProcessing))

			Expect(batch.Run(context.Background(), nil)).To(MatchError(upload.ErrBatchRunning))
			Expect(batch.Clear()).To(BeFalse())
			close(release)
			Eventually(done).Should(Receive(BeNil()))
		})
	})

	Describe("bounded concurrency", func() {
		It("never exceeds the configured limit", func() {
			var (
				inFlight, peak int
				gate           sync.Mutex
			)
			backend.OnExtract = func(*http.Request, string) {
				gate.Lock()
				inFlight++
				peak = max(peak, inFlight)
				gate.Unlock()
				time.Sleep(20 * time.Millisecond)
				gate.Lock()
				inFlight--
				gate.Unlock()
			}
			batch = upload.NewBatch(client, upload.BatchOptions{Concurrency: 2})
			for i, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
				batch.Add(pngFile(name, 4+i, 4))
			}

			Expect(batch.Run(context.Background(), nil)).To(Succeed())
			Expect(batch.Successful()).To(HaveLen(5))
			gate.Lock()
			defer gate.Unlock()
			Expect(peak).To(BeNumerically("<=", 2))
		})
	})
})
