package targets

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

const sampleAsset = `
version: soi-2021
source: irs-soi
period: "2021"
targets:
  - geographic_id: US
    variable: returns
    bracket: 50k_to_75k
    value: 19494660
    type: count
  - geographic_id: US
    variable: agi
    bracket: 50k_to_75k
    value: 1210000000000
    type: amount
  - geographic_id: "06"
    variable: returns
    bracket: all
    value: 17847450
    type: count
  - name: US/returns/1m_plus
    geographic_id: US
    variable: returns
    bracket: 1m_plus
    period: "2020"
    value: 610000
    type: count
`

var _ = Describe("FileStore", func() {
	var (
		store *FileStore
		ctx   context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		path := filepath.Join(GinkgoT().TempDir(), "targets.yaml")
		Expect(os.WriteFile(path, []byte(sampleAsset), 0o600)).To(Succeed())
		store = NewFileStore(path)
	})

	It("loads every target without a filter", func() {
		got, err := store.Load(ctx, Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(4))
	})

	It("defaults the asset period and derives missing names", func() {
		got, err := store.Load(ctx, Filter{Period: "2021"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(3))
		Expect(got[0].Name).To(Equal("US/returns/50k_to_75k"))
		Expect(got[0].Period).To(Equal("2021"))
	})

	It("filters by geography", func() {
		got, err := store.Load(ctx, Filter{GeographicID: "06"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Value).To(BeNumerically("==", 17847450))
		Expect(got[0].Type).To(Equal(core.TargetCount))
	})

	It("returns nothing for a mismatched source", func() {
		got, err := store.Load(ctx, Filter{Source: "hmrc"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})

	It("fails cleanly on a missing file", func() {
		missing := NewFileStore("/does/not/exist.yaml")
		_, err := missing.Load(ctx, Filter{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("SQLiteStore", func() {
	var (
		store *SQLiteStore
		ctx   context.Context
	)

	seed := []core.Target{
		{Name: "US/returns/50k_to_75k", GeographicID: "US", Variable: "returns", Bracket: "50k_to_75k", Period: "2021", Value: 19494660, Type: core.TargetCount},
		{Name: "US/agi/50k_to_75k", GeographicID: "US", Variable: "agi", Bracket: "50k_to_75k", Period: "2021", Value: 1.21e12, Type: core.TargetAmount},
		{Name: "48/returns/all", GeographicID: "48", Variable: "returns", Bracket: "all", Period: "2021", Value: 13592820, Type: core.TargetCount},
		{Name: "US/returns/all", GeographicID: "US", Variable: "returns", Bracket: "all", Period: "2020", Value: 150000000, Type: core.TargetCount},
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = OpenSQLite(":memory:")
		Expect(err).NotTo(HaveOccurred())
		Expect(store.InitSchema(ctx)).To(Succeed())
		Expect(store.Insert(ctx, "irs-soi", seed)).To(Succeed())
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("round-trips targets in insertion order", func() {
		got, err := store.Load(ctx, Filter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(4))
		Expect(got[0].Name).To(Equal("US/returns/50k_to_75k"))
		Expect(got[1].Type).To(Equal(core.TargetAmount))
	})

	It("filters by period", func() {
		got, err := store.Load(ctx, Filter{Period: "2021"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(3))
	})

	It("filters by period and geography together", func() {
		got, err := store.Load(ctx, Filter{Period: "2021", GeographicID: "48"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(HaveLen(1))
		Expect(got[0].Variable).To(Equal("returns"))
	})

	It("filters by source", func() {
		got, err := store.Load(ctx, Filter{Source: "census-acs"})
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeEmpty())
	})
})
