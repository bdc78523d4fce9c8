// Command gen-records generates synthetic record exports for testing the
// pipeline without real source data. It writes the three family
// subdirectories (biometric, demographic, enrolment) under the output
// directory, with a few deliberately hot pincodes for the anomaly model to
// find.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"time"
)

var states = []struct {
	name      string
	districts []string
}{
	{"Kerala", []string{"Ernakulam", "Thiruvananthapuram", "Kozhikode"}},
	{"Karnataka", []string{"Bengaluru Urban", "Mysuru", "Belagavi"}},
	{"Maharashtra", []string{"Pune", "Mumbai Suburban", "Nagpur"}},
	{"Tamil Nadu", []string{"Chennai", "Coimbatore", "Madurai"}},
	{"Uttar Pradesh", []string{"Lucknow", "Kanpur Nagar", "Varanasi"}},
	{"West Bengal", []string{"Kolkata", "Howrah", "Darjeeling"}},
	{"Bihar", []string{"Patna", "Gaya", "Muzaffarpur"}},
	{"Delhi", []string{"New Delhi", "South Delhi", "North Delhi"}},
}

func main() {
	output := flag.String("o", "data", "output directory")
	days := flag.Int("days", 30, "number of days of history")
	pincodes := flag.Int("pincodes", 200, "number of pincodes")
	hot := flag.Int("hot", 3, "number of anomalously busy pincodes")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	start := time.Now().AddDate(0, 0, -*days)

	type site struct {
		pincode  string
		state    string
		district string
		scale    float64
	}
	sites := make([]site, *pincodes)
	for i := range sites {
		st := states[rng.Intn(len(states))]
		scale := 0.5 + rng.Float64()
		if i < *hot {
			scale *= 40
		}
		sites[i] = site{
			pincode:  fmt.Sprintf("%06d", 110001+i*37),
			state:    st.name,
			district: st.districts[rng.Intn(len(st.districts))],
			scale:    scale,
		}
	}

	families := []struct {
		dir    string
		header []string
		counts int
		perDay float64
	}{
		{"api_data_aadhar_biometric", []string{"date", "state", "district", "pincode", "bio_age_5_17", "bio_age_17_"}, 2, 40},
		{"api_data_aadhar_demographic", []string{"date", "state", "district", "pincode", "demo_age_5_17", "demo_age_17_"}, 2, 25},
		{"api_data_aadhar_enrolment", []string{"date", "state", "district", "pincode", "age_0_5", "age_5_17", "age_18_greater"}, 3, 10},
	}

	for _, fam := range families {
		dir := filepath.Join(*output, fam.dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("failed to create %s: %v", dir, err)
		}
		path := filepath.Join(dir, "records.csv")
		f, err := os.Create(path)
		if err != nil {
			log.Fatalf("failed to create %s: %v", path, err)
		}

		w := csv.NewWriter(f)
		if err := w.Write(fam.header); err != nil {
			log.Fatalf("failed to write header: %v", err)
		}
		var rows int
		for day := 0; day < *days; day++ {
			date := start.AddDate(0, 0, day).Format("02-01-2006")
			for _, s := range sites {
				// Roughly a third of sites report on any given day.
				if rng.Float64() > 0.35 {
					continue
				}
				row := []string{date, s.state, s.district, s.pincode}
				for c := 0; c < fam.counts; c++ {
					n := int64(s.scale * fam.perDay * (0.5 + rng.Float64()))
					row = append(row, fmt.Sprintf("%d", n))
				}
				if err := w.Write(row); err != nil {
					log.Fatalf("failed to write row: %v", err)
				}
				rows++
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			log.Fatalf("failed to flush %s: %v", path, err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to close %s: %v", path, err)
		}
		log.Printf("%s: %d rows", path, rows)
	}
	log.Printf("✓ Created: %s", *output)
}
