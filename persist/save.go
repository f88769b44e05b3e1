package persist

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ftahirops/preheatd/model"
)

// Save writes state (plus the app-name -> last-preload-time table) to
// path using create-temp, write, fsync, atomic-rename. On any write
// error the temp file is removed and state.Dirty is left set so the
// next autosave retries.
func Save(path string, state *model.State, preloadTimes map[string]int64, nowUnix int64) error {
	var body bytes.Buffer
	writeHeader(&body, nowUnix)
	writeMaps(&body, state.Maps())
	writeBadExes(&body, state.BadExes)
	writeExes(&body, state)
	writeExeMaps(&body, state)
	writeMarkovs(&body, state)
	writeFamilies(&body, state.Families)
	writePreloadTimes(&body, preloadTimes)

	crc := crc32.ChecksumIEEE(body.Bytes())
	fmt.Fprintf(&body, "%s\t%08X\n", tagCRC32, crc)

	if err := atomicWrite(path, body.Bytes()); err != nil {
		return err
	}
	// Bad exes get another evaluation after every save.
	for p := range state.BadExes {
		delete(state.BadExes, p)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.OpenFile(path+".tmp", os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_EXCL, 0600)
	if os.IsExist(err) {
		os.Remove(path + ".tmp")
		tmp, err = os.OpenFile(path+".tmp", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	}
	if err != nil {
		return fmt.Errorf("open temp state file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("fsync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

func writeHeader(w *bytes.Buffer, nowUnix int64) {
	fmt.Fprintf(w, "%s\t%s\t%d\n", tagPreload, FormatVersion, nowUnix)
}

func writeMaps(w *bytes.Buffer, maps []*model.Mapping) {
	for _, m := range maps {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t-1\t%s\n",
			tagMap, m.Seq, m.LastProbed.Unix(), m.Offset, m.Length, toURI(m.Path))
	}
}

func writeBadExes(w *bytes.Buffer, bad map[string]*model.BadExe) {
	for _, b := range bad {
		fmt.Fprintf(w, "%s\t%d\t-1\t%s\n", tagBadExe, b.UpdateTime, toURI(b.Path))
	}
}

// exesBySeq returns every tracked exe ordered by its registration
// sequence number, for deterministic output.
func exesBySeq(state *model.State) []*model.Exe {
	out := make([]*model.Exe, 0, len(state.Exes()))
	for _, e := range state.Exes() {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func writeExes(w *bytes.Buffer, state *model.State) {
	for _, e := range exesBySeq(state) {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t-1\t%d\t%g\t%d\t%d\t%s\n",
			tagExe, e.Seq, e.RunningTimestamp, e.TotalRuntimeSec,
			e.Pool, e.WeightedLaunches, e.RawLaunches, e.TotalDurationSec, toURI(e.Path))

		if len(e.RunningPIDs) == 0 {
			continue
		}
		fmt.Fprintf(w, "  %s\t%d\n", tagPIDs, len(e.RunningPIDs))
		pids := make([]int, 0, len(e.RunningPIDs))
		for pid := range e.RunningPIDs {
			pids = append(pids, pid)
		}
		sort.Ints(pids)
		for _, pid := range pids {
			rp := e.RunningPIDs[pid]
			userInit := 0
			if rp.UserInitiated {
				userInit = 1
			}
			fmt.Fprintf(w, "    %s\t%d\t%d\t%d\t%d\n",
				tagPID, rp.PID, rp.Start.Unix(), rp.LastWeightAt.Unix(), userInit)
		}
	}
}

func writeExeMaps(w *bytes.Buffer, state *model.State) {
	for _, e := range exesBySeq(state) {
		keys := make([]model.MappingKey, 0, len(e.ExeMaps))
		for k := range e.ExeMaps {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return e.ExeMaps[keys[i]].Map.Seq < e.ExeMaps[keys[j]].Map.Seq })
		for _, k := range keys {
			xm := e.ExeMaps[k]
			fmt.Fprintf(w, "%s\t%d\t%d\t%g\n", tagExeMap, e.Seq, xm.Map.Seq, xm.Prob)
		}
	}
}

func writeMarkovs(w *bytes.Buffer, state *model.State) {
	seen := make(map[*model.Markov]bool)
	for _, e := range exesBySeq(state) {
		type pair struct {
			other *model.Exe
			m     *model.Markov
		}
		var pairs []pair
		for other, m := range e.Markovs {
			if seen[m] || m.A != e {
				continue
			}
			pairs = append(pairs, pair{other, m})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].other.Seq < pairs[j].other.Seq })
		for _, p := range pairs {
			seen[p.m] = true
			var fields []string
			fields = append(fields, tagMarkov,
				strconv.FormatUint(e.Seq, 10), strconv.FormatUint(p.other.Seq, 10),
				strconv.FormatInt(p.m.CoObservationTime, 10))
			for _, ttl := range p.m.TimeToLeave {
				fields = append(fields, strconv.FormatFloat(ttl, 'g', -1, 64))
			}
			for _, row := range p.m.Weight {
				for _, v := range row {
					fields = append(fields, strconv.FormatInt(v, 10))
				}
			}
			w.WriteString(strings.Join(fields, "\t"))
			w.WriteString("\n")
		}
	}
}

func writeFamilies(w *bytes.Buffer, families map[string]*model.Family) {
	ids := make([]string, 0, len(families))
	for id := range families {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f := families[id]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", tagFamily, f.ID, int(f.Method), strings.Join(f.Members, ";"))
	}
}

func writePreloadTimes(w *bytes.Buffer, times map[string]int64) {
	if len(times) == 0 {
		return
	}
	w.WriteString(tagPreloadTimes + "\n")
	names := make([]string, 0, len(times))
	for name := range times {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\t%d\n", tagPreload, name, times[name])
	}
}
