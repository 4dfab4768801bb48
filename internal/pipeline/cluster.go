package pipeline

import (
	"sort"

	"ContentEngine/internal/config"
	"ContentEngine/internal/domain"
)

// noiseLabel marks items not assigned to any cluster.
const noiseLabel = -1

// Clusterer groups deduplicated items into topic clusters with DBSCAN over
// cosine distance. Items that end up in no cluster, or in a cluster below
// the minimum size, are noise and produce no TopicCluster.
type Clusterer struct {
	eps            float64
	minSamples     int
	minClusterSize int
}

// NewClusterer builds a clusterer from the clustering configuration.
func NewClusterer(cfg config.ClusterConfig) *Clusterer {
	minSamples := cfg.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	minSize := cfg.MinClusterSize
	if minSize < 1 {
		minSize = 1
	}
	return &Clusterer{eps: cfg.Eps, minSamples: minSamples, minClusterSize: minSize}
}

// Cluster runs the density clustering and builds TopicClusters ordered by
// descending total engagement. ClusterIndex 0 is the most engaged cluster.
// When maxTopics > 0 only the top maxTopics clusters are retained.
func (c *Clusterer) Cluster(items []domain.ContentItem, maxTopics int) []domain.TopicCluster {
	if len(items) == 0 {
		return nil
	}

	labels := c.dbscan(items)

	groups := map[int][]domain.ContentItem{}
	order := []int{}
	for i, label := range labels {
		if label == noiseLabel {
			continue
		}
		if _, ok := groups[label]; !ok {
			order = append(order, label)
		}
		groups[label] = append(groups[label], items[i])
	}

	clusters := make([]domain.TopicCluster, 0, len(order))
	for _, label := range order {
		members := groups[label]
		if len(members) < c.minClusterSize {
			continue
		}
		clusters = append(clusters, buildCluster(members))
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].TotalEngagement > clusters[j].TotalEngagement
	})

	if maxTopics > 0 && len(clusters) > maxTopics {
		clusters = clusters[:maxTopics]
	}
	for i := range clusters {
		clusters[i].ClusterIndex = i
	}
	return clusters
}

// dbscan assigns a cluster label per item, or noiseLabel. Distance is
// cosine distance (1 - similarity); a point is core when it has at least
// minSamples neighbors within eps, itself included.
func (c *Clusterer) dbscan(items []domain.ContentItem) []int {
	n := len(items)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = noiseLabel
	}
	visited := make([]bool, n)
	next := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true

		neighbors := c.neighborsOf(items, i)
		if len(neighbors) < c.minSamples {
			continue
		}

		labels[i] = next
		queue := neighbors
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == noiseLabel {
				labels[j] = next
			}
			if visited[j] {
				continue
			}
			visited[j] = true

			jNeighbors := c.neighborsOf(items, j)
			if len(jNeighbors) >= c.minSamples {
				queue = append(queue, jNeighbors...)
			}
		}
		next++
	}
	return labels
}

func (c *Clusterer) neighborsOf(items []domain.ContentItem, i int) []int {
	var neighbors []int
	for j := range items {
		if 1-CosineSimilarity(items[i].Embedding, items[j].Embedding) <= c.eps {
			neighbors = append(neighbors, j)
		}
	}
	return neighbors
}

// buildCluster aggregates member statistics for one cluster. The
// representative is the single most engaged member; top titles are the
// three most engaged.
func buildCluster(members []domain.ContentItem) domain.TopicCluster {
	byEngagement := make([]domain.ContentItem, len(members))
	copy(byEngagement, members)
	sort.SliceStable(byEngagement, func(i, j int) bool {
		return byEngagement[i].EngagementScore > byEngagement[j].EngagementScore
	})

	var total float64
	sourceSet := map[string]struct{}{}
	for _, m := range members {
		total += m.EngagementScore
		sourceSet[m.Source] = struct{}{}
	}
	sources := make([]string, 0, len(sourceSet))
	for s := range sourceSet {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	topTitles := make([]string, 0, 3)
	for _, m := range byEngagement {
		if len(topTitles) == 3 {
			break
		}
		topTitles = append(topTitles, m.Title)
	}

	rep := byEngagement[0]
	return domain.TopicCluster{
		Size:                len(members),
		TotalEngagement:     total,
		AvgEngagement:       total / float64(len(members)),
		Sources:             sources,
		TopTitles:           topTitles,
		RepresentativeTitle: rep.Title,
		RepresentativeBody:  rep.Body,
		Members:             members,
	}
}
