package persist

import (
	"bufio"
	"fmt"
	"hash/crc32"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ftahirops/preheatd/model"
)

// PIDValidator reports whether pid is alive and currently resolves (via
// /proc/PID/exe or equivalent) to exePath. Load uses it to drop stale
// PID entries surviving a PID-reuse race across a restart.
type PIDValidator func(pid int, exePath string) bool

// corruptErr wraps any load-time failure that must trigger quarantine:
// CRC mismatch, unknown tag, or a malformed record.
type corruptErr struct{ reason string }

func (e *corruptErr) Error() string { return e.reason }

// Load reads path into a fresh State plus its preload-timestamp table.
// On any corrupt-file condition, path is renamed to
// "<path>.broken.<timestamp>" and Load returns a freshly-initialized
// empty State with no error, so first-run seeding can proceed. A
// missing file is reported as os.ErrNotExist so the caller can
// distinguish "nothing to load yet" from "load failed".
func Load(path string, validate PIDValidator, quarantineTime time.Time) (*model.State, map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	state, times, err := parse(data, validate)
	if err != nil {
		quarantine(path, quarantineTime)
		return model.New(), map[string]int64{}, nil
	}
	return state, times, nil
}

func quarantine(path string, t time.Time) {
	dest := fmt.Sprintf("%s.broken.%s", path, t.Format("20060102_150405"))
	if err := os.Rename(path, dest); err != nil {
		fmt.Fprintf(os.Stderr, "preheatd: persist: could not quarantine corrupt state file %s: %v\n", path, err)
	}
}

type loadCtx struct {
	state      *model.State
	exes       map[int]*model.Exe
	maps       map[int]*model.Mapping
	currentExe *model.Exe
	times      map[string]int64
	validate   PIDValidator
	maxMapSeq  uint64
	maxExeSeq  uint64
}

func parse(data []byte, validate PIDValidator) (*model.State, map[string]int64, error) {
	crcBody, crcLine, err := splitCRCFooter(data)
	if err != nil {
		return nil, nil, err
	}
	if err := verifyCRC(crcBody, crcLine); err != nil {
		return nil, nil, err
	}

	ctx := &loadCtx{
		state:    model.New(),
		exes:     make(map[int]*model.Exe),
		maps:     make(map[int]*model.Mapping),
		times:    make(map[string]int64),
		validate: validate,
	}

	scanner := bufio.NewScanner(strings.NewReader(string(crcBody)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	first := true
	inPreloadTimes := false
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		trimmed := strings.TrimLeft(line, " ")
		tag, rest := splitTag(trimmed)

		if first {
			if tag != tagPreload {
				return nil, nil, &corruptErr{"first line is not PRELOAD"}
			}
			if err := readHeader(rest); err != nil {
				return nil, nil, err
			}
			first = false
			continue
		}

		switch tag {
		case tagMap:
			if err := readMap(ctx, rest); err != nil {
				return nil, nil, err
			}
			inPreloadTimes = false
		case tagBadExe:
			// Never read back: badexes are cleared on load
			// so every app gets another chance.
			inPreloadTimes = false
		case tagExe:
			if err := readExe(ctx, rest); err != nil {
				return nil, nil, err
			}
			inPreloadTimes = false
		case tagPIDs:
			inPreloadTimes = false
			// count only; PID entries follow and are consumed individually.
		case tagPID:
			if err := readPID(ctx, rest); err != nil {
				return nil, nil, err
			}
		case tagExeMap:
			if err := readExeMap(ctx, rest); err != nil {
				return nil, nil, err
			}
			inPreloadTimes = false
		case tagMarkov:
			if err := readMarkov(ctx, rest); err != nil {
				return nil, nil, err
			}
			inPreloadTimes = false
		case tagFamily:
			if err := readFamily(ctx, rest); err != nil {
				return nil, nil, err
			}
			inPreloadTimes = false
		case tagPreloadTimes:
			inPreloadTimes = true
		case tagPreload:
			if !inPreloadTimes {
				return nil, nil, &corruptErr{"unexpected PRELOAD record outside PRELOAD_TIMES"}
			}
			if err := readPreloadTime(ctx, rest); err != nil {
				return nil, nil, err
			}
		default:
			return nil, nil, &corruptErr{fmt.Sprintf("unknown tag %q", tag)}
		}
	}

	ctx.state.SeedSequences(ctx.maxMapSeq, ctx.maxExeSeq)
	finalizeMarkovStates(ctx.state)
	return ctx.state, ctx.times, nil
}

func splitTag(line string) (tag, rest string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i+1:], " \t")
}

func fields(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool { return r == '\t' })
}

func readHeader(rest string) error {
	f := fields(rest)
	if len(f) < 2 {
		return &corruptErr{"malformed PRELOAD header"}
	}
	if f[0] > FormatVersion {
		return &corruptErr{fmt.Sprintf("unreadable future version %q", f[0])}
	}
	return nil
}

func readMap(ctx *loadCtx, rest string) error {
	f := fields(rest)
	if len(f) < 6 {
		return &corruptErr{"malformed MAP record"}
	}
	seq, err1 := strconv.Atoi(f[0])
	updateTime, err2 := strconv.ParseInt(f[1], 10, 64)
	offset, err3 := strconv.ParseUint(f[2], 10, 64)
	length, err4 := strconv.ParseUint(f[3], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return &corruptErr{"malformed MAP numeric field"}
	}
	path, err := fromURI(f[5])
	if err != nil {
		return &corruptErr{err.Error()}
	}
	m := &model.Mapping{Path: path, Offset: offset, Length: length, Seq: uint64(seq), LastProbed: time.Unix(updateTime, 0)}
	ctx.maps[seq] = m
	if uint64(seq) > ctx.maxMapSeq {
		ctx.maxMapSeq = uint64(seq)
	}
	return nil
}

func readExe(ctx *loadCtx, rest string) error {
	f := fields(rest)
	if len(f) != 9 && len(f) != 6 && len(f) != 5 {
		return &corruptErr{"malformed EXE record"}
	}

	seq, err := strconv.Atoi(f[0])
	if err != nil {
		return &corruptErr{"malformed EXE seq"}
	}
	updateTime, err := strconv.ParseInt(f[1], 10, 64)
	if err != nil {
		return &corruptErr{"malformed EXE update_time"}
	}
	totalRuntime, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return &corruptErr{"malformed EXE time"}
	}

	pool := model.PoolObservation
	weighted := 0.0
	var raw uint64
	var duration int64
	var uriField string

	switch len(f) {
	case 9:
		p, err := strconv.Atoi(f[4])
		if err != nil {
			return &corruptErr{"malformed EXE pool"}
		}
		pool = model.Pool(p)
		weighted, err = strconv.ParseFloat(f[5], 64)
		if err != nil {
			return &corruptErr{"malformed EXE weighted"}
		}
		raw, err = strconv.ParseUint(f[6], 10, 64)
		if err != nil {
			return &corruptErr{"malformed EXE raw"}
		}
		duration, err = strconv.ParseInt(f[7], 10, 64)
		if err != nil {
			return &corruptErr{"malformed EXE duration"}
		}
		uriField = f[8]
	case 6:
		p, err := strconv.Atoi(f[4])
		if err != nil {
			return &corruptErr{"malformed EXE pool"}
		}
		pool = model.Pool(p)
		uriField = f[5]
	case 5:
		uriField = f[4]
	}

	path, err := fromURI(uriField)
	if err != nil {
		return &corruptErr{err.Error()}
	}

	e := ctx.state.RegisterExe(path, pool)
	e.RunningTimestamp = updateTime
	e.TotalRuntimeSec = totalRuntime
	e.WeightedLaunches = weighted
	e.RawLaunches = raw
	e.TotalDurationSec = duration
	e.Seq = uint64(seq)

	ctx.exes[seq] = e
	ctx.currentExe = e
	if uint64(seq) > ctx.maxExeSeq {
		ctx.maxExeSeq = uint64(seq)
	}
	return nil
}

func readPID(ctx *loadCtx, rest string) error {
	if ctx.currentExe == nil {
		return &corruptErr{"PID without parent EXE"}
	}
	f := fields(rest)
	if len(f) < 4 {
		return &corruptErr{"malformed PID record"}
	}
	pid, err1 := strconv.Atoi(f[0])
	start, err2 := strconv.ParseInt(f[1], 10, 64)
	lastUpdate, err3 := strconv.ParseInt(f[2], 10, 64)
	userInit, err4 := strconv.Atoi(f[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return &corruptErr{"malformed PID numeric field"}
	}

	if ctx.validate != nil && !ctx.validate(pid, ctx.currentExe.Path) {
		return nil // stale PID (reused), silently dropped
	}

	ctx.currentExe.RunningPIDs[pid] = &model.RunningPID{
		PID:           pid,
		Start:         time.Unix(start, 0),
		LastWeightAt:  time.Unix(lastUpdate, 0),
		UserInitiated: userInit != 0,
	}
	return nil
}

func readExeMap(ctx *loadCtx, rest string) error {
	f := fields(rest)
	if len(f) < 3 {
		return &corruptErr{"malformed EXEMAP record"}
	}
	exeSeq, err1 := strconv.Atoi(f[0])
	mapSeq, err2 := strconv.Atoi(f[1])
	prob, err3 := strconv.ParseFloat(f[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return &corruptErr{"malformed EXEMAP numeric field"}
	}
	e, ok1 := ctx.exes[exeSeq]
	m, ok2 := ctx.maps[mapSeq]
	if !ok1 || !ok2 {
		return &corruptErr{"EXEMAP references unknown seq"}
	}
	ctx.state.RestoreExeMap(e, m, prob)
	return nil
}

func readMarkov(ctx *loadCtx, rest string) error {
	f := fields(rest)
	if len(f) != 23 {
		return &corruptErr{"malformed MARKOV record"}
	}
	aSeq, err1 := strconv.Atoi(f[0])
	bSeq, err2 := strconv.Atoi(f[1])
	coObs, err3 := strconv.ParseInt(f[2], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return &corruptErr{"malformed MARKOV header field"}
	}
	a, ok1 := ctx.exes[aSeq]
	b, ok2 := ctx.exes[bSeq]
	if !ok1 || !ok2 {
		return &corruptErr{"MARKOV references unknown exe seq"}
	}

	m, ok := a.Markovs[b]
	if !ok {
		m = model.NewMarkov(a, b)
		a.Markovs[b] = m
		b.Markovs[a] = m
	}
	m.CoObservationTime = coObs

	for i := 0; i < 4; i++ {
		v, err := strconv.ParseFloat(f[3+i], 64)
		if err != nil {
			return &corruptErr{"malformed MARKOV ttl field"}
		}
		m.TimeToLeave[i] = v
	}
	idx := 7
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			v, err := strconv.ParseInt(f[idx], 10, 64)
			if err != nil {
				return &corruptErr{"malformed MARKOV weight field"}
			}
			m.Weight[r][c] = v
			idx++
		}
	}
	return nil
}

func readFamily(ctx *loadCtx, rest string) error {
	f := fields(rest)
	if len(f) < 3 {
		return &corruptErr{"malformed FAMILY record"}
	}
	method, err := strconv.Atoi(f[1])
	if err != nil {
		return &corruptErr{"malformed FAMILY method"}
	}
	var members []string
	for _, p := range strings.Split(f[2], ";") {
		p = strings.TrimSpace(p)
		if p != "" {
			members = append(members, p)
		}
	}
	ctx.state.Families[f[0]] = &model.Family{ID: f[0], Method: model.DiscoveryMethod(method), Members: members}
	return nil
}

func readPreloadTime(ctx *loadCtx, rest string) error {
	f := fields(rest)
	if len(f) < 2 {
		return &corruptErr{"malformed PRELOAD_TIMES entry"}
	}
	ts, err := strconv.ParseInt(f[1], 10, 64)
	if err != nil {
		return &corruptErr{"malformed PRELOAD_TIMES timestamp"}
	}
	ctx.times[f[0]] = ts
	return nil
}

// splitCRCFooter separates the trailing CRC32 line from the rest of the
// file, which is everything the checksum was computed over.
func splitCRCFooter(data []byte) (body []byte, crcHex string, err error) {
	idx := strings.LastIndex(string(data), "\n"+tagCRC32+"\t")
	if idx < 0 {
		return nil, "", &corruptErr{"missing CRC32 footer"}
	}
	body = data[:idx+1]
	line := strings.TrimSpace(string(data[idx+1:]))
	f := fields(strings.TrimPrefix(line, tagCRC32+"\t"))
	if len(f) < 1 {
		return nil, "", &corruptErr{"malformed CRC32 footer"}
	}
	return body, f[0], nil
}

func verifyCRC(body []byte, crcHex string) error {
	want, err := strconv.ParseUint(crcHex, 16, 32)
	if err != nil {
		return &corruptErr{"malformed CRC32 hex"}
	}
	got := crc32.ChecksumIEEE(body)
	if uint32(want) != got {
		return &corruptErr{"CRC32 checksum mismatch"}
	}
	return nil
}

// finalizeMarkovStates repopulates each Markov's State field by
// inspecting the current running flags of its endpoints, since running
// state is not itself persisted. Called with no exe considered running yet (a fresh load has no
// running-timestamp baseline), so this only has an effect once combined
// with a subsequent scan; it is still run here for symmetry with the
// documented protocol and to leave State.MarkovBoth-style bits
// consistent if a caller inspects state immediately after load.
func finalizeMarkovStates(state *model.State) {
	for _, e := range state.Exes() {
		for _, m := range e.Markovs {
			if m.A != e {
				continue
			}
			aRunning := m.A.IsRunning(state.LastRunningTimestamp)
			bRunning := m.B.IsRunning(state.LastRunningTimestamp)
			newState := 0
			if aRunning {
				newState |= model.MarkovAOnly
			}
			if bRunning {
				newState |= model.MarkovBOnly
			}
			m.State = newState
		}
	}
}
