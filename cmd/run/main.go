// Command run computes the ground state of the transverse field Ising
// chain over a grid of chain lengths and field strengths.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/fumin/dmrg"
	"github.com/fumin/dmrg/mpo"
	"github.com/fumin/dmrg/mps"
	"github.com/fumin/dmrg/obs"
	"github.com/fumin/tensor"
)

const (
	fnameDB         = "mps.db"
	fnameDone       = "done.txt"
	fnameStatistics = "statistics.txt"
)

var (
	runDir  = flag.String("d", filepath.Join("runs", "tfim"), "run directory")
	bondDim = flag.Int("chi", 16, "maximum bond dimension")
)

type Statistics struct {
	l int
	h complex64

	Energy        float64
	Entropy       float64
	Sweeps        int
	Magnetization float64
	Correlation   float64
	Diagnostics   dmrg.Diagnostics
}

func solveGround(dir string, l int, h complex64) (Statistics, error) {
	backend, err := mps.NewDiskBackend(filepath.Join(dir, fnameDB))
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	defer backend.Close()

	op := mpo.TransverseFieldIsing(l, 1, h)
	cfg := dmrg.NewConfig()
	cfg.BondDim = *bondDim
	sys, err := dmrg.New(op, cfg, backend)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	r, err := sys.Run()
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	z := tensor.T2(mpo.PauliZ)
	mz, err := obs.SingleSite(sys.Store(), l/2, z)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}
	zz, err := obs.Correlation(sys.Store(), l/2, l/2+1, z, z)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "")
	}

	stats := Statistics{
		Energy:        r.Energy,
		Entropy:       r.Entropy,
		Sweeps:        sys.Sweeps(),
		Magnetization: float64(real(mz)),
		Correlation:   float64(real(zz)),
		Diagnostics:   sys.Diagnostics(),
	}
	return stats, nil
}

func solve(dir string, l int, h complex64) error {
	donePath := filepath.Join(dir, fnameDone)
	if _, err := os.Stat(donePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	stats, err := solveGround(dir, l, h)
	if err != nil {
		return errors.Wrap(err, "")
	}
	b, err := json.Marshal(stats)
	if err != nil {
		return errors.Wrap(err, "")
	}
	if err := os.WriteFile(filepath.Join(dir, fnameStatistics), b, 0644); err != nil {
		return errors.Wrap(err, "")
	}

	if err := os.WriteFile(donePath, nil, 0644); err != nil {
		return errors.Wrap(err, "")
	}
	return nil
}

func gather(dir string) ([]Statistics, error) {
	stats := make([]Statistics, 0)
	lEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "")
	}
	for _, lent := range lEntries {
		l, err := strconv.Atoi(lent.Name())
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}

		ldir := filepath.Join(dir, lent.Name())
		hEntries, err := os.ReadDir(ldir)
		if err != nil {
			return nil, errors.Wrap(err, fmt.Sprintf("%#v", lent))
		}
		for _, hent := range hEntries {
			hf, err := strconv.ParseFloat(hent.Name(), 64)
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, hent))
			}

			hdir := filepath.Join(ldir, hent.Name())
			sb, err := os.ReadFile(filepath.Join(hdir, fnameStatistics))
			if err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, hent))
			}
			s := Statistics{l: l, h: complex(float32(hf), 0)}
			if err := json.Unmarshal(sb, &s); err != nil {
				return nil, errors.Wrap(err, fmt.Sprintf("%#v %#v", lent, hent))
			}
			stats = append(stats, s)
		}
	}
	return stats, nil
}

func main() {
	flag.Parse()
	log.SetFlags(log.Lmicroseconds | log.Llongfile | log.LstdFlags)

	if err := mainWithErr(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func mainWithErr() error {
	if err := os.MkdirAll(*runDir, os.ModePerm); err != nil {
		return errors.Wrap(err, "")
	}

	// The critical point of the transverse field Ising chain is at h=1.
	const tcLog = 0
	hLogs := []float64{-2, -1.5, -1, 1, 1.5, 2}
	for _, hl := range []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5} {
		hLogs = append(hLogs, tcLog+hl)
		hLogs = append(hLogs, tcLog-hl)
	}

	configs := make([]Statistics, 0)
	for _, l := range []int{8, 16, 32} {
		for _, hl := range hLogs {
			h := complex(float32(math.Pow(10, hl)), 0)
			configs = append(configs, Statistics{l: l, h: h})
		}
	}

	for _, c := range configs {
		lstr := strconv.Itoa(c.l)
		hstr := fmt.Sprintf("%f", real(c.h))
		dir := filepath.Join(*runDir, lstr, hstr)

		if err := solve(dir, c.l, c.h); err != nil {
			return errors.Wrap(err, fmt.Sprintf("%d %f", c.l, c.h))
		}
		log.Printf("%d %f", c.l, real(c.h))
	}

	stats, err := gather(*runDir)
	if err != nil {
		return errors.Wrap(err, "")
	}
	fmt.Printf("l,h,e0,entropy,m,zz,sweeps\n")
	for _, s := range stats {
		fmt.Printf("%d,%f,%f,%f,%f,%f,%d\n", s.l, real(s.h), s.Energy, s.Entropy, s.Magnetization, s.Correlation, s.Sweeps)
	}
	return nil
}
