package persist

import "time"

// MigrationReport summarizes what the startup pass rewrote.
type MigrationReport struct {
	SessionsConverted int
	RankingsRekeyed   int
	RankingsDropped   int
}

// Migrate normalizes legacy on-disk shapes into the current ones, in place.
// Two legacy encodings exist in the wild:
//
//   - session rows holding a bare unix expiry instead of a TTL record
//   - ranking rows keyed by display name instead of account id
//
// Legacy shapes are input-only: after this pass every row is in the current
// shape and only current shapes are ever written back. Name-keyed ranking
// rows whose name no longer resolves to an account are dropped. When a
// legacy row and a current row cover the same account, the higher score
// wins.
func Migrate(snap *Snapshot) MigrationReport {
	var report MigrationReport

	for i := range snap.Sessions {
		row := &snap.Sessions[i]
		if row.ExpiresAt.IsZero() && row.LegacyExpiryUnix > 0 {
			row.ExpiresAt = time.Unix(row.LegacyExpiryUnix, 0)
			if row.LastUsedAt.IsZero() {
				row.LastUsedAt = row.ExpiresAt
			}
			report.SessionsConverted++
		}
		row.LegacyExpiryUnix = 0
	}

	byNickname := make(map[string]string, len(snap.Accounts))
	for _, a := range snap.Accounts {
		byNickname[a.Nickname] = a.ID
	}

	type key struct{ category, accountID string }
	merged := make(map[key]int)
	order := make([]key, 0, len(snap.Rankings))
	for _, row := range snap.Rankings {
		accountID := row.AccountID
		if accountID == "" {
			resolved, ok := byNickname[row.DisplayName]
			if !ok {
				report.RankingsDropped++
				continue
			}
			accountID = resolved
			report.RankingsRekeyed++
		}
		k := key{row.Category, accountID}
		if prev, seen := merged[k]; !seen {
			merged[k] = row.Score
			order = append(order, k)
		} else if row.Score > prev {
			merged[k] = row.Score
		}
	}

	out := make([]RankingRow, 0, len(order))
	for _, k := range order {
		out = append(out, RankingRow{Category: k.category, AccountID: k.accountID, Score: merged[k]})
	}
	snap.Rankings = out
	return report
}
