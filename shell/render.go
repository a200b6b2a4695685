package shell

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/brettbedarf/simos"
	"github.com/dustin/go-humanize"
)

const framesPerRow = 32

func (s *Shell) ls(args []string) (string, error) {
	target := "."
	if len(args) == 1 {
		target = args[0]
	}
	entries, err := s.k.ListDirectoryAt(s.cwd, target)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "(empty)", nil
	}

	return table(func(w *tabwriter.Writer) {
		for _, e := range entries {
			name := e.Name
			if e.IsDirectory {
				name += "/"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", name, humanize.IBytes(e.Size), humanize.Time(e.ModifiedAt))
		}
	}), nil
}

func (s *Shell) stat(name string) (string, error) {
	info, err := s.k.Stat(s.cwd, name)
	if err != nil {
		return "", err
	}
	return table(func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "path:\t%s\n", info.Path)
		fmt.Fprintf(w, "type:\t%s\n", info.Type)
		fmt.Fprintf(w, "size:\t%s (%s bytes)\n", humanize.IBytes(info.Size), humanize.Comma(int64(info.Size)))
		fmt.Fprintf(w, "perms:\t%04o\n", info.Perms)
		fmt.Fprintf(w, "inode:\t%d\n", info.Ino)
		fmt.Fprintf(w, "id:\t%s\n", info.ID)
		fmt.Fprintf(w, "created:\t%s\n", info.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "modified:\t%s (%s)\n", info.ModifiedAt.Format(time.RFC3339), humanize.Time(info.ModifiedAt))
	}), nil
}

func (s *Shell) ps(args []string) (string, error) {
	all := false
	if len(args) == 1 {
		if args[0] != "-a" {
			return "", fmt.Errorf("%w: usage: %s", simos.ErrInvalidArgument, commands[OpPs].usage)
		}
		all = true
	}

	procs := s.k.Processes().List()
	if all {
		procs = append(s.k.Processes().Terminated(), procs...)
	}
	if len(procs) == 0 {
		return "no processes", nil
	}

	return table(func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "PID\tSTATE\tPRI\tTICKS\tMEM\tNAME")
		for _, p := range procs {
			mem := "-"
			if p.MemoryHandle != 0 {
				mem = fmt.Sprintf("#%d", p.MemoryHandle)
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\n", p.PID, p.State, p.Priority, p.CPUTicks, mem, p.Name)
		}
	}), nil
}

func (s *Shell) mem() string {
	u := s.k.Memory().Usage()
	pct := 0.0
	if u.TotalFrames > 0 {
		pct = float64(u.UsedFrames) / float64(u.TotalFrames) * 100
	}
	return table(func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "frames:\t%d used / %d total (%s%%)\n", u.UsedFrames, u.TotalFrames, humanize.FtoaWithDigits(pct, 1))
		fmt.Fprintf(w, "free:\t%d frames\n", u.FreeFrames)
		fmt.Fprintf(w, "memory:\t%s / %s (frame size %s)\n",
			humanize.IBytes(u.UsedBytes()), humanize.IBytes(u.TotalBytes()), humanize.IBytes(uint64(u.FrameSize)))
		fmt.Fprintf(w, "allocations:\t%d\n", u.Allocations)
		fmt.Fprintf(w, "evictions:\t%d\n", u.Evictions)
	})
}

// frames draws the frame table, '#' for occupied and '.' for free, followed
// by the live allocations
func (s *Shell) frames() string {
	var sb strings.Builder
	for _, f := range s.k.Memory().Frames() {
		if f.Index > 0 && f.Index%framesPerRow == 0 {
			sb.WriteByte('\n')
		}
		if f.Index%framesPerRow == 0 {
			fmt.Fprintf(&sb, "%4d ", f.Index)
		}
		if f.State == simos.FrameOccupied {
			sb.WriteByte('#')
		} else {
			sb.WriteByte('.')
		}
	}

	allocs := s.k.Memory().Allocations(0)
	if len(allocs) == 0 {
		return sb.String()
	}
	sb.WriteByte('\n')
	sb.WriteString(table(func(w *tabwriter.Writer) {
		fmt.Fprintln(w, "HANDLE\tPID\tPAGES\tPINNED\tFRAMES")
		for _, a := range allocs {
			fmt.Fprintf(w, "%d\t%d\t%d\t%t\t%s\n", a.Handle, a.Owner, len(a.Frames), a.Pinned, frameRanges(a.Frames))
		}
	}))
	return sb.String()
}

// frameRanges compacts ascending indices, i.e. [0 1 2 5] to "0-2,5"
func frameRanges(frames []int) string {
	var parts []string
	for i := 0; i < len(frames); {
		j := i
		for j+1 < len(frames) && frames[j+1] == frames[j]+1 {
			j++
		}
		if i == j {
			parts = append(parts, fmt.Sprint(frames[i]))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", frames[i], frames[j]))
		}
		i = j + 1
	}
	return strings.Join(parts, ",")
}

func table(fill func(w *tabwriter.Writer)) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fill(w)
	_ = w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}
