package wiring

import (
	"context"
	"path/filepath"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"reportsync/internal/config"
	"reportsync/internal/mailbox"
	"reportsync/internal/pipeline"
	"reportsync/internal/store"
)

var _ = ginkgo.Describe("Run in local mode", func() {
	var (
		root   string
		ledger *store.MemStore
		p      *pipeline.Pipeline
	)

	ginkgo.BeforeEach(func() {
		root = ginkgo.GinkgoT().TempDir()
		st, err := mailbox.NewDirStore(root)
		gomega.Expect(err).To(gomega.Succeed())
		cfg := config.Default()
		cfg.Store.Backend = config.BackendDir
		cfg.Merge.DefaultOrganization = "Studio"
		ledger = store.NewMemStore()
		p = pipeline.New(cfg, st, ledger, nil)
	})

	ginkgo.It("archives valid reports and records the rejected ones", func() {
		src := ginkgo.GinkgoT().TempDir()
		writeFile(ginkgo.GinkgoT(), filepath.Join(src, "task_output", "2025-10-11_Acme_Tower_Arch.json"), `{"status":"ok"}`)
		writeFile(ginkgo.GinkgoT(), filepath.Join(src, "task_output", "2025-10-11_Acme_Tower_Mock.json"), `{"status":"ok","mock":true}`)
		writeFile(ginkgo.GinkgoT(), filepath.Join(src, "task_output", "Wing B", "2025-10-13_Struct.json"), `{"status":"ok"}`)

		packed, sum, err := Run(context.Background(), p, p, src, "report_batch_7")
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(packed.Files).To(gomega.Equal(3))
		gomega.Expect(sum.Merge.Merged).To(gomega.HaveLen(2))
		gomega.Expect(sum.Merge.RejectionsByReason()).To(gomega.HaveKeyWithValue("mock-flag", 1))
		gomega.Expect(filepath.Join(root, "archive", "Studio", "Wing B", "2025-10-13", "Struct.json")).To(gomega.BeAnExistingFile())
		gomega.Expect(filepath.Join(root, "staging", "report_batch_7")).NotTo(gomega.BeAnExistingFile())

		rej, err := ledger.ListRejections(sum.RunID)
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(rej).To(gomega.HaveLen(1))
		gomega.Expect(rej[0].Reason).To(gomega.Equal("mock-flag"))
	})

	ginkgo.It("is idempotent when nothing new was packed", func() {
		src := ginkgo.GinkgoT().TempDir()
		writeFile(ginkgo.GinkgoT(), filepath.Join(src, "task_output", "2025-10-11_Acme_Tower_Arch.json"), `{"status":"ok"}`)
		_, _, err := Run(context.Background(), p, p, src, "report_batch_8")
		gomega.Expect(err).To(gomega.Succeed())

		sum, err := p.Run(context.Background())
		gomega.Expect(err).To(gomega.Succeed())
		gomega.Expect(sum.Unpack.Jobs).To(gomega.BeEmpty())
		gomega.Expect(sum.Merge.Merged).To(gomega.BeEmpty())
		gomega.Expect(sum.Manifest.Files).To(gomega.Equal(1))
	})
})
