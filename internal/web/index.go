package web

// Dashboard page: one card per tracked asset plus the event log fed over /ws.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Dipbuyer</title>
  <link rel="preconnect" href="https://fonts.googleapis.com">
  <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
  <link href="https://fonts.googleapis.com/css2?family=Press+Start+2P&family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root {
      --bg:#ffffff;
      --ink:#111111;
      --ink-mid:#4d4d4d;
      --ink-soft:#9c9c9c;
      --panel:#f6f6f6;
      --up:#1b7f3b;
      --down:#b3261e;
    }
    * { box-sizing:border-box; }
    body {
      margin:0;
      min-height:100vh;
      padding:2rem;
      background:var(--bg);
      color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1400px, 96vw);
      margin:0 auto;
      background:var(--panel);
      border:3px solid var(--ink);
      padding:2rem;
      box-shadow:12px 12px 0 rgba(0,0,0,.15);
      display:grid;
      grid-template-columns:1fr 380px;
      gap:2rem;
    }
    header { display:flex; justify-content:space-between; align-items:center; gap:1rem; grid-column:1 / -1; }
    .eyebrow {
      font-family:'Press Start 2P','Space Mono',monospace;
      font-size:.6rem;
      text-transform:uppercase;
      letter-spacing:.2em;
      margin:0;
    }
    .status, button {
      font-family:inherit;
      font-size:.65rem;
      text-transform:uppercase;
      letter-spacing:.1em;
      border:2px solid var(--ink);
      padding:.4rem .9rem;
      background:#ffffff;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
    }
    button { cursor:pointer; }
    button:disabled { color:var(--ink-soft); cursor:default; }
    .controls { display:flex; gap:.6rem; align-items:center; }
    .pair-grid {
      display:grid;
      grid-template-columns:repeat(auto-fit, minmax(300px, 1fr));
      gap:1.5rem;
    }
    .pair-card {
      border:3px solid var(--ink);
      padding:1.2rem;
      background:#fff;
      box-shadow:8px 8px 0 rgba(0,0,0,.15);
      display:flex;
      flex-direction:column;
      gap:.6rem;
    }
    .pair-card.disabled { opacity:.5; }
    .pair-name {
      font-family:'Press Start 2P','Space Mono',monospace;
      font-size:.75rem;
      margin:0;
    }
    .phase { font-size:.6rem; color:var(--ink-mid); text-transform:uppercase; }
    dl { display:grid; grid-template-columns:auto 1fr; gap:.2rem .8rem; margin:0; font-size:.75rem; }
    dt { color:var(--ink-mid); }
    dd { margin:0; text-align:right; }
    .down { color:var(--down); }
    .up { color:var(--up); }
    .sell { display:flex; gap:.4rem; }
    .log {
      border:3px solid var(--ink);
      background:#fff;
      padding:1rem;
      max-height:80vh;
      overflow-y:auto;
      font-size:.7rem;
    }
    .log-entry { border-bottom:1px dashed var(--ink-soft); padding:.4rem 0; }
    .log-entry.error { color:var(--down); }
    .log-entry.success { color:var(--up); }
    .log-entry time { color:var(--ink-soft); margin-right:.4rem; }
  </style>
</head>
<body>
<div id="app">
  <header>
    <p class="eyebrow">Dipbuyer // ATH drawdown DCA</p>
    <div class="controls">
      <span class="status" id="status">connecting</span>
      <button id="start">Start</button>
      <button id="stop">Stop</button>
    </div>
  </header>
  <section class="pair-grid" id="pairs"></section>
  <aside class="log" id="log"></aside>
</div>
<script>
const MAX_LOG = 200;
const pairsEl = document.getElementById('pairs');
const logEl = document.getElementById('log');
const statusEl = document.getElementById('status');
const startBtn = document.getElementById('start');
const stopBtn = document.getElementById('stop');

function text(v, fallback){ return (v === undefined || v === null || v === '') ? fallback : v; }

function renderStatus(s){
  statusEl.textContent = s.isRunning ? 'running · ' + s.activePairs + ' pairs' : 'stopped';
  startBtn.disabled = s.isRunning;
  stopBtn.disabled = !s.isRunning;
}

function renderPairs(pairs){
  pairsEl.innerHTML = '';
  (pairs || []).forEach(p => {
    const card = document.createElement('article');
    card.className = 'pair-card' + (p.enabled ? '' : ' disabled');
    const dd = parseFloat(p.priceChangeFromATH);
    const ddClass = isNaN(dd) ? '' : (dd < 0 ? 'down' : 'up');
    card.innerHTML =
      '<h2 class="pair-name">' + p.symbol + '/USDC</h2>' +
      '<span class="phase">' + p.phase + '</span>' +
      '<dl>' +
      '<dt>price</dt><dd>' + text(p.currentPrice, '-') + '</dd>' +
      '<dt>ath</dt><dd>' + text(p.allTimeHigh, '-') + '</dd>' +
      '<dt>drawdown</dt><dd class="' + ddClass + '">' + text(p.priceChangeFromATH, '-') + '%</dd>' +
      '<dt>last buy</dt><dd>' + text(p.lastPurchasePrice, '-') + '</dd>' +
      '<dt>avg cost</dt><dd>' + text(p.averageCost, '-') + '</dd>' +
      '<dt>buys</dt><dd>' + p.purchaseCount + ' / ' + p.maxPurchases + '</dd>' +
      '<dt>spent</dt><dd>' + p.totalSpent + '</dd>' +
      '<dt>balance</dt><dd>' + p.balance + '</dd>' +
      '</dl>';
    const sell = document.createElement('div');
    sell.className = 'sell';
    [25, 50, 100].forEach(pct => {
      const b = document.createElement('button');
      b.textContent = 'sell ' + pct + '%';
      b.onclick = () => post('/api/sell', {pairId: p.id, percentage: pct});
      sell.appendChild(b);
    });
    card.appendChild(sell);
    pairsEl.appendChild(card);
  });
}

function appendLog(e){
  const row = document.createElement('div');
  row.className = 'log-entry ' + e.type;
  const ts = new Date(e.timestamp).toLocaleTimeString();
  row.innerHTML = '<time>' + ts + '</time>';
  row.appendChild(document.createTextNode(e.message));
  logEl.insertBefore(row, logEl.firstChild);
  while(logEl.children.length > MAX_LOG){
    logEl.removeChild(logEl.lastChild);
  }
}

async function post(url, body){
  const res = await fetch(url, {method:'POST', headers:{'Content-Type':'application/json'}, body: JSON.stringify(body || {})});
  const data = await res.json().catch(() => ({}));
  if(!res.ok || data.success === false){
    appendLog({type:'error', timestamp: Date.now(), message: data.error || res.statusText});
  }
}

startBtn.onclick = () => post('/api/start');
stopBtn.onclick = () => post('/api/stop');

function connect(){
  const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
  const ws = new WebSocket(proto + location.host + '/ws');
  ws.onmessage = ev => {
    try{
      const msg = JSON.parse(ev.data);
      if(msg.type === 'status') renderStatus(msg.data);
      else if(msg.type === 'pairs-update') renderPairs(msg.data);
      else if(msg.type === 'log') appendLog(msg.data);
    }catch(err){
      console.error('frame parse error', err);
    }
  };
  ws.onclose = () => {
    statusEl.textContent = 'reconnecting';
    setTimeout(connect, 2000);
  };
}

connect();
</script>
</body>
</html>`
