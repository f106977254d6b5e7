package main

import (
	"fmt"
	"io"

	"yave.dev/internal/server"
	"yave.dev/internal/transport/udp"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, m server.Metrics, net udp.Stats, idx runtimeIndex) {
	gauge := func(name, help string, v any) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", name)
		fmt.Fprintf(w, "%s %v\n", name, v)
	}
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		fmt.Fprintf(w, "# TYPE %s counter\n", name)
		fmt.Fprintf(w, "%s %d\n", name, v)
	}

	gauge("yave_world_tick", "Current world tick.", m.Tick)
	gauge("yave_world_players", "Connected players.", m.Players)
	gauge("yave_world_loaded_chunks", "Loaded chunk count.", m.LoadedChunks)
	gauge("yave_world_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))

	fmt.Fprintf(w, "# HELP yave_world_inbox Inbound event queue.\n")
	fmt.Fprintf(w, "# TYPE yave_world_inbox gauge\n")
	fmt.Fprintf(w, "yave_world_inbox{field=%q} %d\n", "depth", m.InboxDepth)
	fmt.Fprintf(w, "yave_world_inbox{field=%q} %d\n", "capacity", m.InboxCapacity)

	fmt.Fprintf(w, "# HELP yave_world_events_rejected_total Inbound events not applied, by reason.\n")
	fmt.Fprintf(w, "# TYPE yave_world_events_rejected_total counter\n")
	fmt.Fprintf(w, "yave_world_events_rejected_total{reason=%q} %d\n", "inbox_full", m.DroppedEvents)
	fmt.Fprintf(w, "yave_world_events_rejected_total{reason=%q} %d\n", "rate_limited", m.RateLimitedEvents)
	fmt.Fprintf(w, "yave_world_events_rejected_total{reason=%q} %d\n", "malformed", m.MalformedPackets)
	fmt.Fprintf(w, "yave_world_events_rejected_total{reason=%q} %d\n", "ignored", m.IgnoredPackets)

	counter("yave_world_send_failures_total", "Packets that could not be delivered to a peer.", m.SendFailures)
	counter("yave_world_chunks_loaded_total", "Chunks generated and broadcast.", m.ChunksLoaded)
	counter("yave_world_chunks_unloaded_total", "Chunks unloaded.", m.ChunksUnloaded)

	counter("yave_udp_sent_packets_total", "Datagrams sent.", net.SentPackets)
	counter("yave_udp_sent_bytes_total", "Datagram bytes sent.", net.SentBytes)
	counter("yave_udp_too_large_total", "Packets rejected for exceeding the datagram size.", net.TooLarge)
	counter("yave_udp_received_packets_total", "Datagrams received.", net.ReceivedPackets)
	counter("yave_udp_received_bytes_total", "Datagram bytes received.", net.ReceivedBytes)

	if idx != nil {
		st := idx.Stats()
		counter("yave_index_dropped_ticks_total", "Tick entries dropped because the index fell behind.", st.DropTickTotal)
		counter("yave_index_failed_ticks_total", "Tick entries the index could not store.", st.FailedTickTotal)
		gauge("yave_index_queue_depth", "Index writer backlog.", st.QueueDepth)
	}
}
