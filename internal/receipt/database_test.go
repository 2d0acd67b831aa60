package receipt

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/receipt-capture/internal/overlap"
	"github.com/zombor/receipt-capture/internal/scanning"
	"github.com/zombor/receipt-capture/internal/session"
	"github.com/zombor/receipt-capture/internal/validation"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	newScan := func(id string, completedAt time.Time) *Scan {
		return &Scan{
			ID: id,
			Session: &session.ScanSession{
				ID:       id,
				Settings: session.DefaultSettings(),
				Images: []session.CapturedImage{
					{Index: 0, RawLines: []string{"CORNER MARKET", "Milk 5.00"}},
					{
						Index:    1,
						RawLines: []string{"Milk 5.00", "TOTAL 5.00"},
						Overlap: &overlap.Result{
							Confidence:       1,
							OverlapLineCount: 1,
							QualityLevel:     overlap.QualityExcellent,
						},
						ReceiptEndDetected: true,
					},
				},
				MergedLines: []string{"CORNER MARKET", "Milk 5.00", "TOTAL 5.00"},
				Status:      session.StatusCompleted,
			},
			CompletedAt: completedAt,
		}
	}

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveScan", func() {
		var (
			scan *Scan
			err  error
		)

		BeforeEach(func() {
			scan = newScan("scan-1", time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC))
		})

		JustBeforeEach(func() {
			err = db.SaveScan(scan)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the scan to the database", func() {
				saved, getErr := db.GetScan("scan-1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Session.MergedLines).To(Equal(scan.Session.MergedLines))
				Expect(saved.Session.Images[1].Overlap.QualityLevel).To(Equal(overlap.QualityExcellent))
				Expect(saved.Session.Images[0].Overlap).To(BeNil())
			})
		})

		When("the scan is saved again with a report", func() {
			It("should replace the earlier version", func() {
				Expect(err).NotTo(HaveOccurred())
				extractedAt := scan.CompletedAt.Add(time.Minute)
				scan.Record = &scanning.Record{Business: scanning.BusinessInfo{Name: "CORNER MARKET"}, Total: 5}
				scan.Report = &validation.Report{OverallScore: 0.9, Issues: []validation.Issue{}, Recommendations: []string{}}
				scan.ExtractedAt = &extractedAt
				Expect(db.SaveScan(scan)).To(Succeed())

				saved, getErr := db.GetScan("scan-1")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Extracted()).To(BeTrue())
				Expect(saved.Record.Total).To(Equal(5.0))
				Expect(saved.ExtractedAt.Equal(extractedAt)).To(BeTrue())
			})
		})

		When("the scan has no ID", func() {
			BeforeEach(func() {
				scan.ID = ""
			})

			It("should return an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetScan", func() {
		When("the scan does not exist", func() {
			It("returns ErrScanNotFound", func() {
				_, err := db.GetScan("missing")
				Expect(errors.Is(err, ErrScanNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ListScans", func() {
		var (
			scans []*Scan
			err   error
		)

		JustBeforeEach(func() {
			scans, err = db.ListScans()
		})

		When("scans exist", func() {
			BeforeEach(func() {
				base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
				Expect(db.SaveScan(newScan("older", base))).To(Succeed())
				Expect(db.SaveScan(newScan("newest", base.Add(2*time.Hour)))).To(Succeed())
				Expect(db.SaveScan(newScan("middle", base.Add(time.Hour)))).To(Succeed())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return all scans newest first", func() {
				Expect(scans).To(HaveLen(3))
				Expect(scans[0].ID).To(Equal("newest"))
				Expect(scans[1].ID).To(Equal("middle"))
				Expect(scans[2].ID).To(Equal("older"))
			})
		})

		When("no scans exist", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an empty list", func() {
				Expect(scans).To(BeEmpty())
			})
		})
	})

	Describe("NewBoltDB", func() {
		When("the database is reopened", func() {
			It("should keep saved scans", func() {
				Expect(db.SaveScan(newScan("scan-1", time.Now()))).To(Succeed())
				Expect(db.Close()).To(Succeed())

				reopened, err := NewBoltDB(dbPath)
				Expect(err).NotTo(HaveOccurred())
				db = reopened

				_, err = db.GetScan("scan-1")
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})

	Describe("Close", func() {
		It("should not return an error", func() {
			Expect(db.Close()).To(Succeed())
			db = nil
		})
	})
})
