package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Threat Annotator Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #101418; color: #e6e6e6; }
        .header { display: flex; justify-content: space-between; align-items: center; padding: 12px 20px; background: #182028; }
        .title { font-size: 20px; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 10px; font-size: 12px; background: #3a4450; }
        .badge.streaming { background: #1f7a3a; }
        .badge.failed { background: #a12a2a; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; padding: 16px 20px; }
        .panel { background: #182028; border-radius: 8px; padding: 14px; }
        .panel h2 { margin: 0 0 10px; font-size: 16px; }
        #stream { width: 100%; height: auto; background: #000; display: block; }
        .stat-grid { display: grid; grid-template-columns: 1fr 1fr; gap: 8px; }
        .stat { background: #212b36; padding: 8px; border-radius: 6px; }
        .stat-label { display: block; font-size: 11px; color: #8a96a3; }
        .stat-value { font-size: 18px; font-weight: 600; }
        .progress { height: 6px; background: #212b36; border-radius: 3px; margin-top: 10px; }
        .progress > div { height: 100%; width: 0; background: #2d8cf0; border-radius: 3px; }
        ul { list-style: none; padding: 0; margin: 0; max-height: 320px; overflow-y: auto; }
        li { padding: 6px 8px; border-bottom: 1px solid #26303a; font-size: 13px; }
        .threat-HIGH { color: #ff5c5c; }
        .threat-MEDIUM { color: #ffb347; }
        .threat-LOW { color: #6fdc8c; }
        .threat-UNKNOWN { color: #c0c0c0; }
        button { background: #2d8cf0; color: #fff; border: 0; border-radius: 4px; padding: 6px 12px; cursor: pointer; }
        button:disabled { background: #3a4450; cursor: default; }
        .row { display: flex; gap: 8px; align-items: center; margin-top: 10px; flex-wrap: wrap; }
        .muted { color: #8a96a3; font-size: 12px; }
    </style>
</head>
<body>
    <div class="header">
        <div class="title">Threat Annotator Monitor</div>
        <span class="badge" id="state-badge">idle</span>
    </div>
    <div class="grid">
        <div class="panel">
            <h2>Annotated Feed</h2>
            <img id="stream" src="/stream" alt="Annotated stream">
            <div class="progress"><div id="progress-bar"></div></div>
            <div class="row">
                <button id="btn-record">Start recording</button>
                <span class="muted" id="recording-status">not recording</span>
            </div>
            <div class="row">
                <button id="btn-webrtc">Connect data channel</button>
                <span class="muted" id="webrtc-status">disconnected</span>
            </div>
        </div>
        <div class="panel">
            <h2>Status</h2>
            <div class="stat-grid">
                <div class="stat"><span class="stat-label">Frames</span><span class="stat-value" id="frames">--</span></div>
                <div class="stat"><span class="stat-label">FPS</span><span class="stat-value" id="fps">--</span></div>
                <div class="stat"><span class="stat-label">Detections</span><span class="stat-value" id="detections">--</span></div>
                <div class="stat"><span class="stat-label">Progress</span><span class="stat-value" id="progress">--</span></div>
                <div class="stat"><span class="stat-label">Resolution</span><span class="stat-value" id="resolution">--</span></div>
                <div class="stat"><span class="stat-label">Source FPS</span><span class="stat-value" id="source-fps">--</span></div>
            </div>
            <h2 style="margin-top:16px;">Latest Detections</h2>
            <ul id="latest"></ul>
            <p class="muted" id="source"></p>
        </div>
    </div>
<script>
(function () {
    const $ = (id) => document.getElementById(id);
    let recording = false;

    function renderStatus(s) {
        const st = s.stream || {};
        const badge = $('state-badge');
        badge.textContent = st.state || 'idle';
        badge.className = 'badge ' + (st.state || '');
        $('frames').textContent = s.monitor.frames_processed;
        $('fps').textContent = s.monitor.current_fps.toFixed(1);
        $('detections').textContent = s.monitor.detection_count;
        $('resolution').textContent = st.width ? st.width + 'x' + st.height : '--';
        $('source-fps').textContent = st.fps ? st.fps.toFixed(2) : '--';
        $('source').textContent = st.source ? 'Source: ' + st.source + (st.last_error ? ' (' + st.last_error + ')' : '') : '';
        if (st.progress !== undefined) {
            $('progress').textContent = st.progress.toFixed(1) + '%';
            $('progress-bar').style.width = st.progress + '%';
        } else {
            $('progress').textContent = 'live';
        }
        renderRecording(s.recording);
    }

    function renderRecording(r) {
        recording = r.recording;
        $('btn-record').textContent = recording ? 'Stop recording' : 'Start recording';
        $('recording-status').textContent = recording
            ? 'recording ' + r.filename + ' (' + r.frame_count + ' frames)'
            : (r.filename ? 'last: ' + r.filename : 'not recording');
    }

    function renderDetections(p) {
        const list = $('latest');
        list.innerHTML = '';
        if (p.detections.length === 0) {
            const li = document.createElement('li');
            li.className = 'muted';
            li.textContent = 'frame ' + p.frame_number + ': no detections';
            list.appendChild(li);
            return;
        }
        for (const d of p.detections) {
            const li = document.createElement('li');
            li.className = 'threat-' + d.threat;
            li.textContent = d.class_name + ' ' + (d.confidence * 100).toFixed(0) + '% [' +
                d.bbox.map((v) => Math.round(v)).join(', ') + '] ' + d.threat;
            list.appendChild(li);
        }
    }

    new EventSource('/api/status/stream').onmessage = (e) => renderStatus(JSON.parse(e.data));
    new EventSource('/api/detections/stream').onmessage = (e) => renderDetections(JSON.parse(e.data));

    $('btn-record').onclick = async () => {
        const res = await fetch(recording ? '/api/recording/stop' : '/api/recording/start', { method: 'POST' });
        const body = await res.json();
        if (!res.ok) {
            $('recording-status').textContent = body.error;
            return;
        }
        const status = await (await fetch('/api/recording/status')).json();
        renderRecording(status);
    };

    $('btn-webrtc').onclick = async () => {
        const btn = $('btn-webrtc');
        btn.disabled = true;
        const pc = new RTCPeerConnection();
        const dc = pc.createDataChannel('detections');
        dc.onopen = () => { $('webrtc-status').textContent = 'connected'; };
        dc.onclose = () => { $('webrtc-status').textContent = 'disconnected'; btn.disabled = false; };
        dc.onmessage = (e) => renderDetections(JSON.parse(e.data));
        await pc.setLocalDescription(await pc.createOffer());
        await new Promise((resolve) => {
            if (pc.iceGatheringState === 'complete') return resolve();
            pc.onicegatheringstatechange = () => pc.iceGatheringState === 'complete' && resolve();
        });
        const res = await fetch('/api/webrtc/offer', {
            method: 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: JSON.stringify(pc.localDescription),
        });
        const body = await res.json();
        if (!res.ok) {
            $('webrtc-status').textContent = body.error;
            btn.disabled = false;
            pc.close();
            return;
        }
        await pc.setRemoteDescription(body);
    };
})();
</script>
</body>
</html>
`
