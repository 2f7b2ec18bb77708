package sanad

import "fmt"

// analyzeIlal walks the transmission chain looking for structural
// flaws: broken links, grafted segments from a different origin,
// impossible chronology, and stale document citations.
//
// The chain is expected in transmission order, first hop first. Every
// hop after the first must name its predecessor, and the predecessor
// must appear earlier in the chain.
func analyzeIlal(chain []TransmissionNode, evidence []Evidence) []defectSeed {
	var seeds []defectSeed

	if len(chain) == 0 {
		seeds = append(seeds, defectSeed{
			Type:        DefectIlalChainBreak,
			Description: "transmission chain is empty: no custody path from source to claim",
		})
	}

	seen := make(map[string]int, len(chain))
	for i, node := range chain {
		if node.NodeID == "" {
			seeds = append(seeds, defectSeed{
				Type:        DefectIlalChainBreak,
				Description: fmt.Sprintf("chain hop %d has no node id", i),
			})
			continue
		}
		if _, dup := seen[node.NodeID]; dup {
			seeds = append(seeds, defectSeed{
				Type:        DefectIlalChainBreak,
				Description: fmt.Sprintf("chain hop %s appears more than once", node.NodeID),
			})
			continue
		}
		seen[node.NodeID] = i

		if i == 0 {
			if node.PrevNodeID != "" {
				seeds = append(seeds, defectSeed{
					Type:        DefectIlalChainBreak,
					Description: fmt.Sprintf("first hop %s references predecessor %s outside the chain", node.NodeID, node.PrevNodeID),
				})
			}
			continue
		}

		if node.PrevNodeID == "" {
			seeds = append(seeds, defectSeed{
				Type:        DefectIlalChainBreak,
				Description: fmt.Sprintf("hop %s is detached: no predecessor recorded", node.NodeID),
			})
			continue
		}
		prevIdx, ok := seen[node.PrevNodeID]
		if !ok {
			seeds = append(seeds, defectSeed{
				Type:        DefectIlalChainBreak,
				Description: fmt.Sprintf("hop %s references predecessor %s which is missing from the chain", node.NodeID, node.PrevNodeID),
			})
			continue
		}
		prev := chain[prevIdx]

		if !node.Timestamp.IsZero() && !prev.Timestamp.IsZero() && node.Timestamp.Before(prev.Timestamp) {
			seeds = append(seeds, defectSeed{
				Type: DefectIlalChronology,
				Description: fmt.Sprintf("hop %s at %s predates its source hop %s at %s",
					node.NodeID, node.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
					prev.NodeID, prev.Timestamp.UTC().Format("2006-01-02T15:04:05Z")),
			})
		}

		if node.UpstreamOriginID != "" && prev.UpstreamOriginID != "" && node.UpstreamOriginID != prev.UpstreamOriginID {
			seeds = append(seeds, defectSeed{
				Type: DefectIlalChainGrafting,
				Description: fmt.Sprintf("hop %s carries origin %s but continues a chain from origin %s",
					node.NodeID, node.UpstreamOriginID, prev.UpstreamOriginID),
			})
		}
	}

	for _, ev := range evidence {
		if ev.CitedDocVersion > 0 && ev.LatestDocVersion > ev.CitedDocVersion {
			seeds = append(seeds, defectSeed{
				Type: DefectIlalVersionDrift,
				Description: fmt.Sprintf("evidence %s cites document version %d but version %d exists",
					ev.EvidenceID, ev.CitedDocVersion, ev.LatestDocVersion),
			})
		}
	}

	return seeds
}
