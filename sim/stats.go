package sim

import "fmt"

// ServerStats is the per-server row shown by renderers.
type ServerStats struct {
	ID                 ServerID
	Name               string
	Status             string // "Active" or "Inactive"
	Weight             int
	CurrentConnections int
	MaxConnections     int
	Connections        string // "current/max"
	TotalRequests      int64
	AvgResponse        string // ms, two decimals; "0.00" when nothing was served
}

// Traffic names a server and its served-request count.
type Traffic struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Summary is the aggregate view derived from registry state.
type Summary struct {
	Algorithm     string // display label, e.g. "Weighted Round Robin"
	TotalRequests int64
	ActiveServers int
	AvgResponse   string // simple mean of per-server averages, two decimals
	MostTraffic   Traffic
	LeastTraffic  Traffic
	Servers       []ServerStats
}

// ServerReport is one entry of Report.PerServer.
type ServerReport struct {
	Name           string `json:"name"`
	TotalRequests  int64  `json:"totalRequests"`
	AvgResponse    string `json:"avgResponse"`
	MaxConnections int    `json:"maxConnections"`
	Weight         int    `json:"weight"`
}

// Report is the serializable summary consumers persist or export.
// Field names and nesting are a stable external contract.
type Report struct {
	TotalRequests int64          `json:"totalRequests"`
	AvgResponse   string         `json:"avgResponse"`
	MostTraffic   Traffic        `json:"mostTraffic"`
	LeastTraffic  Traffic        `json:"leastTraffic"`
	PerServer     []ServerReport `json:"perServer"`
}

// StatsFor builds the per-server row for s.
func StatsFor(s Server) ServerStats {
	return ServerStats{
		ID:                 s.ID,
		Name:               s.Name,
		Status:             s.Status(),
		Weight:             s.Weight,
		CurrentConnections: s.CurrentConnections,
		MaxConnections:     s.MaxConnections,
		Connections:        fmt.Sprintf("%d/%d", s.CurrentConnections, s.MaxConnections),
		TotalRequests:      s.TotalRequests,
		AvgResponse:        formatMs(s.AvgResponseTimeMs()),
	}
}

// Summarize derives the aggregate view from server snapshots.
// Most and least traffic ties go to the first server in order.
func Summarize(servers []Server, algorithm Algorithm) Summary {
	sum := Summary{
		Algorithm: algorithm.Label(),
		Servers:   make([]ServerStats, len(servers)),
	}
	for i, s := range servers {
		sum.Servers[i] = StatsFor(s)
		sum.TotalRequests += s.TotalRequests
		if s.Active {
			sum.ActiveServers++
		}
	}
	sum.AvgResponse = formatMs(meanAvgResponse(servers))
	sum.MostTraffic, sum.LeastTraffic = trafficExtremes(servers)
	return sum
}

// BuildReport derives the stable report shape from server snapshots.
func BuildReport(servers []Server) Report {
	r := Report{
		AvgResponse: formatMs(meanAvgResponse(servers)),
		PerServer:   make([]ServerReport, len(servers)),
	}
	for i, s := range servers {
		r.TotalRequests += s.TotalRequests
		r.PerServer[i] = ServerReport{
			Name:           s.Name,
			TotalRequests:  s.TotalRequests,
			AvgResponse:    formatMs(s.AvgResponseTimeMs()),
			MaxConnections: s.MaxConnections,
			Weight:         s.Weight,
		}
	}
	r.MostTraffic, r.LeastTraffic = trafficExtremes(servers)
	return r
}

// meanAvgResponse is the unweighted mean of per-server averages; 0 with no servers.
func meanAvgResponse(servers []Server) float64 {
	if len(servers) == 0 {
		return 0
	}
	total := 0.0
	for _, s := range servers {
		total += s.AvgResponseTimeMs()
	}
	return total / float64(len(servers))
}

func trafficExtremes(servers []Server) (most, least Traffic) {
	if len(servers) == 0 {
		return Traffic{}, Traffic{}
	}
	most = Traffic{Name: servers[0].Name, Count: servers[0].TotalRequests}
	least = most
	for _, s := range servers[1:] {
		if s.TotalRequests > most.Count {
			most = Traffic{Name: s.Name, Count: s.TotalRequests}
		}
		if s.TotalRequests < least.Count {
			least = Traffic{Name: s.Name, Count: s.TotalRequests}
		}
	}
	return most, least
}

func formatMs(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
