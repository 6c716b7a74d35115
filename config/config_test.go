package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fansqz/ether-debugger/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Config", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "ether-debugger-config-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(os.RemoveAll(dir)).To(Succeed())
	})

	Describe("Default", func() {
		It("should provide usable defaults for every section", func() {
			cfg := config.Default()

			Expect(cfg.Server.Addr).To(Equal(":5001"))
			Expect(cfg.Debugger.Path).NotTo(BeEmpty())
			Expect(cfg.Debugger.ReadyTimeout).To(Equal(30 * time.Second))
			Expect(cfg.Debugger.StopOnEntry).To(BeFalse())
			Expect(cfg.Session.IdleTimeout).To(Equal(30 * time.Minute))
			Expect(cfg.Logging.Level).To(Equal("info"))
			Expect(cfg.Logging.File).To(BeEmpty())
		})
	})

	Describe("Load", func() {
		It("should return defaults when the file does not exist", func() {
			cfg, err := config.Load(filepath.Join(dir, "missing.yml"))
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).To(Equal(config.Default()))
		})

		It("should override only the values present in the file", func() {
			path := filepath.Join(dir, "config.yml")
			content := `
server:
  addr: "127.0.0.1:7000"
debugger:
  path: /usr/local/bin/ethdbg
  args: ["--verbose", "--port", "0"]
  ready_timeout: 5s
  stop_on_entry: true
  diagnostic_tty: true
logging:
  level: debug
  file: /tmp/ether-debugger.log
`
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())

			cfg, err := config.Load(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Server.Addr).To(Equal("127.0.0.1:7000"))
			Expect(cfg.Debugger.Path).To(Equal("/usr/local/bin/ethdbg"))
			Expect(cfg.Debugger.Args).To(Equal([]string{"--verbose", "--port", "0"}))
			Expect(cfg.Debugger.ReadyTimeout).To(Equal(5 * time.Second))
			Expect(cfg.Debugger.StopOnEntry).To(BeTrue())
			Expect(cfg.Debugger.DiagnosticTTY).To(BeTrue())
			Expect(cfg.Logging.Level).To(Equal("debug"))
			Expect(cfg.Logging.File).To(Equal("/tmp/ether-debugger.log"))

			// 文件中没有的部分保持默认值
			Expect(cfg.Session.IdleTimeout).To(Equal(30 * time.Minute))
		})

		It("should wrap parse errors", func() {
			path := filepath.Join(dir, "broken.yml")
			Expect(os.WriteFile(path, []byte("server: [unclosed"), 0o644)).To(Succeed())

			_, err := config.Load(path)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
		})

		It("should wrap read errors other than a missing file", func() {
			_, err := config.Load(dir)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to read config file"))
		})
	})
})
