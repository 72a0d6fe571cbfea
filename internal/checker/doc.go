// Package checker holds the individual reconnaissance probes and the pure
// analysis engines they feed.
//
// Architecture overview:
//
//   - Each probe is a small struct (PortScanner, TLSChecker, HeadersChecker,
//     DNSChecker, SubdomainChecker, TakeoverChecker, ...) exposing
//     Run(ctx, ...) and returning a flat result type plus an error. Probes never
//     decide whether they are enabled and never convert errors into outcomes;
//     the scan package does both at the probe boundary.
//   - Analysis engines are pure functions over already-parsed data:
//     GradeHeaders, AnalyzeDNSPosture, ProviderTable.Match, AnalyzeCORS,
//     AnalyzeCookies, AnalyzeFingerprint. They are deterministic and safe to
//     call concurrently.
//   - Static tables (port profiles, takeover providers, the subdomain wordlist)
//     are embedded YAML/text loaded once per process and never mutated.
//   - Fan-out inside a probe (port connects, wordlist lookups, takeover
//     candidates) goes through Limiter so a single scan never opens unbounded
//     sockets or queries against the target.
//
// All heuristics here are best-effort signals, not proof of exposure or safety.
package checker
