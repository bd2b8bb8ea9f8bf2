package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	// Load CoreDNS + dnsbl plugins
	_ "github.com/ipshipyard/dnsbl-cache/plugins"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coredns/coredns/core/dnsserver"
	"github.com/coredns/coredns/coremain"
	clog "github.com/coredns/coredns/plugin/pkg/log"

	"github.com/joho/godotenv"
)

var dnsblDirectives = []string{
	"dnsbl",
}

func init() {
	// Add dnsbl before 'file' so cached answers are served before static
	// records loaded via 'file', which does not support fallthrough
	// https://github.com/coredns/coredns/blob/v1.11.3/plugin.cfg
	// https://github.com/coredns/coredns/issues/3601
	for i, d := range dnsserver.Directives {
		if d == "file" {
			ds := make([]string, 0, len(dnsserver.Directives)+len(dnsblDirectives))
			ds = append(ds, dnsserver.Directives[:i]...)
			ds = append(ds, dnsblDirectives...)
			ds = append(ds, dnsserver.Directives[i:]...)
			dnsserver.Directives = ds
			break
		}
	}
	clog.Debugf("updated directives: %v", dnsserver.Directives)
}

// shouldShowUsageGuidance detects when Corefile is missing the dnsbl plugin
func shouldShowUsageGuidance() bool {
	return shouldShowUsageGuidanceWithOptions(os.Args[1:], ".")
}

// shouldShowUsageGuidanceWithOptions is a testable version that accepts custom args and working directory
func shouldShowUsageGuidanceWithOptions(args []string, workDir string) bool {
	// Check if -conf flag is explicitly provided
	confFile := getConfigFileFromArgs(args)
	if confFile == "" {
		// No explicit config, check if default Corefile exists
		defaultCorefile := filepath.Join(workDir, "Corefile")
		if _, err := os.Stat(defaultCorefile); os.IsNotExist(err) {
			// No Corefile at all - show guidance
			return true
		}
		confFile = defaultCorefile
	} else if !filepath.IsAbs(confFile) {
		// Make relative path absolute based on working directory
		confFile = filepath.Join(workDir, confFile)
	}

	return isMissingDNSBLPlugin(confFile)
}

// getConfigFileFromArgs is a testable version that accepts custom args
func getConfigFileFromArgs(args []string) string {
	for i, arg := range args {
		if arg == "-conf" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// isMissingDNSBLPlugin checks if the config file never enables the dnsbl plugin
func isMissingDNSBLPlugin(filename string) bool {
	content, err := os.ReadFile(filename)
	if err != nil {
		// If we can't read the file, let CoreDNS handle the error
		return false
	}

	for _, line := range strings.Split(string(content), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		if fields[0] == "dnsbl" {
			return false
		}
	}
	return true
}

func main() {
	fmt.Printf("%s %s\n", name, version) // always print version
	registerVersionMetric()
	err := godotenv.Load()
	if err == nil {
		fmt.Println(".env found and loaded")
	}

	// Check for common misconfiguration before running CoreDNS
	if shouldShowUsageGuidance() {
		fmt.Fprintf(os.Stderr, "\nError: Configuration issue detected.\n\n")
		fmt.Fprintf(os.Stderr, "%s requires a Corefile with a 'dnsbl' block, for example:\n\n", name)
		fmt.Fprintf(os.Stderr, "  . {\n")
		fmt.Fprintf(os.Stderr, "      log\n")
		fmt.Fprintf(os.Stderr, "      errors\n")
		fmt.Fprintf(os.Stderr, "      dnsbl zen.spamhaus.org {\n")
		fmt.Fprintf(os.Stderr, "          nameservers 208.67.222.222\n")
		fmt.Fprintf(os.Stderr, "          serve-zone dnsbl.local\n")
		fmt.Fprintf(os.Stderr, "          database-type badger dnsbl.db\n")
		fmt.Fprintf(os.Stderr, "      }\n")
		fmt.Fprintf(os.Stderr, "  }\n\n")
		fmt.Fprintf(os.Stderr, "Run with:\n")
		fmt.Fprintf(os.Stderr, "  ./%s -conf Corefile -dns.port 5354\n\n", name)
		os.Exit(1)
	}

	coremain.Run()
}

func registerVersionMetric() {
	m := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   "coredns",
		Subsystem:   "dnsbl",
		Name:        "info",
		Help:        "Information about the dnsbl-cache instance.",
		ConstLabels: prometheus.Labels{"version": version},
	})
	prometheus.MustRegister(m)
	m.Set(1)
}
