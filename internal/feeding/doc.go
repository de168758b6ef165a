// Package feeding holds the domain model shared by every feedbot component:
// schedules, dispense records, the feed ratio, the safe amount policy and the
// error taxonomy.
//
// Packages that persist or act on these values (storage, schedules, ledger,
// dispense, feedratio) import feeding; feeding imports nothing from the repo.
package feeding
