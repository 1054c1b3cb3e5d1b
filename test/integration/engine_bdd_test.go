//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/archive"
	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/heuristic"
	"github.com/eliteGoblin/shieldscan/internal/infra"
	"github.com/eliteGoblin/shieldscan/internal/policy"
	"github.com/eliteGoblin/shieldscan/internal/rules"
	"github.com/eliteGoblin/shieldscan/internal/usecase"
	"github.com/eliteGoblin/shieldscan/test/fixtures"
)

var _ = Describe("Scan and quarantine pipeline", func() {
	var (
		tmpDir       string
		device       *fixtures.FakeDevice
		sigDB        *infra.SignatureDB
		suppressions *infra.SuppressionRegistry
		store        *infra.FileQuarantine
		scanner      *usecase.ScannerImpl
		quarantineAt string
	)

	ledgerFor := func() *infra.QuarantineLedger {
		return infra.NewQuarantineLedger(filepath.Join(quarantineAt, "ledger.json"), zap.NewNop())
	}

	newStore := func() *infra.FileQuarantine {
		exclusion := policy.NewSelfExclusion([]string{device.DataDir()}, "com.shieldscan.app")
		s, err := infra.NewFileQuarantine(infra.QuarantineConfig{
			Dir:       quarantineAt,
			Exclusion: exclusion,
			Guard:     policy.NewDefaultRestoreGuard([]string{device.DataDir()}),
			Monitor:   suppressions,
			Logger:    zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return s
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "shieldscan-integration-*")
		Expect(err).NotTo(HaveOccurred())

		device = fixtures.NewFakeDevice(tmpDir)
		Expect(device.Create()).To(Succeed())
		quarantineAt = filepath.Join(device.DataDir(), "quarantine")

		key, err := infra.GenerateKey()
		Expect(err).NotTo(HaveOccurred())
		sigDB, err = infra.NewSignatureDB(filepath.Join(device.DataDir(), "signatures.db"), key, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		Expect(sigDB.Reload(infra.SignatureFeed{
			Signatures: []infra.FeedSignature{{SHA256: fixtures.KnownBadHash(), Label: "Trojan.Integration.A"}},
			Patterns:   []infra.FeedPattern{{Name: "keylogger", Pattern: "keylogger"}},
		})).To(Succeed())

		suppressions = infra.NewSuppressionRegistry(zap.NewNop())
		store = newStore()

		logger := zap.NewNop()
		exclusion := policy.NewSelfExclusion([]string{device.DataDir()}, "com.shieldscan.app")
		scanner = usecase.NewScanner(usecase.ScannerDeps{
			Signatures: sigDB,
			Rules:      rules.NewDefaultEngine(logger),
			Archives:   archive.NewInspector(logger),
			Heuristics: heuristic.NewAnalyzer(logger),
			Inventory:  infra.NewDirectoryInventory(device.AppsDir(), logger),
			FileSystem: infra.NewFileSystemManager(exclusion, logger),
			Exclusion:  exclusion,
			Trusted:    policy.NewTrustedPublishers(policy.DefaultTrustedPublishers),
			Vocabulary: policy.NewVocabulary(policy.DefaultVocabulary),
		}, usecase.ScannerConfig{
			ScanRoots: []string{device.Downloads()},
			Walk:      domain.WalkOptions{MaxDepth: 4},
		}, logger)
	})

	AfterEach(func() {
		Expect(sigDB.Close()).To(Succeed())
		Expect(device.Cleanup()).To(Succeed())
	})

	Describe("ScanFile", func() {
		It("flags content whose hash is a known signature", func() {
			r := scanner.ScanFile(device.KnownBadPath(), domain.ScanTypeOnDemand)

			Expect(r.ThreatLevel).To(Equal(domain.LevelInfected))
			Expect(r.ThreatName).To(Equal("Trojan.Integration.A"))
			Expect(r.FileHash).To(Equal(fixtures.KnownBadHash()))
		})

		It("flags an APK hiding a nested installable bundle as a dropper", func() {
			r := scanner.ScanFile(device.DropperPath(), domain.ScanTypeOnDemand)

			Expect(r.ThreatLevel).To(Equal(domain.LevelInfected))
			Expect(r.ThreatName).To(Equal("Archive.Dropper"))
		})

		It("leaves ordinary files clean", func() {
			r := scanner.ScanFile(device.CleanPath(), domain.ScanTypeOnDemand)

			Expect(r.ThreatLevel).To(Equal(domain.LevelClean))
			Expect(scanner.ToActionableRisk(r)).To(BeNil())
		})

		It("never flags its own signature database", func() {
			r := scanner.ScanFile(sigDB.Path(), domain.ScanTypeOnDemand)
			Expect(r.ThreatLevel).To(Equal(domain.LevelClean))
		})
	})

	Describe("ScanInstalledApp", func() {
		It("flags a sideloaded SMS fraud app", func() {
			r := scanner.ScanInstalledApp("com.example.smsprize", domain.ScanTypeInstall)

			Expect(r.IsApp).To(BeTrue())
			Expect(r.DisplayName).To(Equal("Prize Winner"))
			Expect(r.ThreatLevel.AtLeast(domain.LevelSuspicious)).To(BeTrue())
		})

		It("only hash-checks trusted publishers", func() {
			r := scanner.ScanInstalledApp("com.google.android.apps.maps", domain.ScanTypeInstall)
			Expect(r.ThreatLevel).To(Equal(domain.LevelClean))
		})

		It("reports its own package as clean", func() {
			r := scanner.ScanInstalledApp("com.shieldscan.app", domain.ScanTypeInstall)
			Expect(r.ThreatLevel).To(Equal(domain.LevelClean))
		})
	})

	Describe("RunFullScan", func() {
		It("scans user apps and downloads and reports progress", func() {
			var last domain.Progress
			results, err := scanner.RunFullScan(context.Background(), domain.ScanTypeFull, func(p domain.Progress) {
				last = p
			})
			Expect(err).NotTo(HaveOccurred())

			// maps, smsprize, notes + three downloads
			Expect(results).To(HaveLen(6))
			Expect(last.Done).To(BeTrue())
			Expect(last.Scanned).To(Equal(6))

			flagged := map[string]bool{}
			for _, r := range results {
				if r.Infected() {
					flagged[r.Path] = true
				}
			}
			Expect(flagged).To(HaveKey(device.KnownBadPath()))
			Expect(flagged).To(HaveKey(device.DropperPath()))
		})
	})

	Describe("Quarantine lifecycle", func() {
		It("isolates, lists and restores byte-identical content", func() {
			r := scanner.ScanFile(device.KnownBadPath(), domain.ScanTypeOnDemand)
			entry, err := store.Quarantine(r)
			Expect(err).NotTo(HaveOccurred())

			Expect(device.KnownBadPath()).NotTo(BeAnExistingFile())
			stored, err := os.ReadFile(entry.QuarantinedPath)
			Expect(err).NotTo(HaveOccurred())
			Expect(bytes.Equal(stored, fixtures.KnownBadContent)).To(BeFalse())
			Expect(scanner.ScanFile(entry.QuarantinedPath, domain.ScanTypeRealtime).ThreatLevel).To(Equal(domain.LevelClean))

			entries, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].ThreatName).To(Equal("Trojan.Integration.A"))

			Expect(store.Restore(*entry)).To(Succeed())
			restored, err := os.ReadFile(device.KnownBadPath())
			Expect(err).NotTo(HaveOccurred())
			Expect(restored).To(Equal(fixtures.KnownBadContent))
			Expect(suppressions.IsSuppressed(device.KnownBadPath())).To(BeTrue())

			entries, err = store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("deletes permanently", func() {
			entry, err := store.Quarantine(scanner.ScanFile(device.DropperPath(), domain.ScanTypeOnDemand))
			Expect(err).NotTo(HaveOccurred())

			Expect(store.Delete(*entry)).To(Succeed())
			Expect(entry.QuarantinedPath).NotTo(BeAnExistingFile())
			Expect(device.DropperPath()).NotTo(BeAnExistingFile())

			entries, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})

		It("refuses to restore into managed storage and keeps the entry", func() {
			entry, err := store.Quarantine(scanner.ScanFile(device.KnownBadPath(), domain.ScanTypeOnDemand))
			Expect(err).NotTo(HaveOccurred())

			hijacked := *entry
			hijacked.OriginalPath = filepath.Join(quarantineAt, "escaped.bin")
			ledger := ledgerFor()
			Expect(ledger.Remove(entry.ID)).To(Succeed())
			Expect(ledger.Append(hijacked)).To(Succeed())

			Expect(store.Restore(*entry)).To(MatchError(domain.ErrUnsafeDestination))

			entries, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(suppressions.Len()).To(BeZero())
			Expect(filepath.Join(quarantineAt, "escaped.bin")).NotTo(BeAnExistingFile())
		})

		It("keeps the ledger across store instances", func() {
			_, err := store.Quarantine(scanner.ScanFile(device.KnownBadPath(), domain.ScanTypeOnDemand))
			Expect(err).NotTo(HaveOccurred())

			entries, err := newStore().List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
		})

		It("records one entry per concurrent quarantine", func() {
			const n = 16
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				p := filepath.Join(device.Downloads(), fmt.Sprintf("sample-%02d.bin", i))
				Expect(os.WriteFile(p, []byte(fmt.Sprintf("sample %d", i)), 0644)).To(Succeed())

				wg.Add(1)
				go func(path string) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := store.Quarantine(domain.ScanResult{Path: path, DisplayName: filepath.Base(path)})
					errs <- err
				}(p)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				Expect(err).NotTo(HaveOccurred())
			}

			entries, err := store.List()
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(n))

			seen := map[string]bool{}
			for _, e := range entries {
				Expect(seen).NotTo(HaveKey(e.OriginalPath))
				seen[e.OriginalPath] = true
			}
		})
	})
})
